package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceLimiter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		l := newNamespaceLimiter(0, 0, 0)
		assert.Nil(t, l)
		assert.True(t, l.Allow("x", time.Now()))
	})

	t.Run("per namespace buckets", func(t *testing.T) {
		l := newNamespaceLimiter(1, 2, 0)
		now := time.Now()

		assert.True(t, l.Allow("x", now))
		assert.True(t, l.Allow("x", now))
		assert.False(t, l.Allow("x", now))
		assert.True(t, l.Allow("y", now), "other namespaces have their own bucket")

		assert.True(t, l.Allow("x", now.Add(time.Second)))
	})

	t.Run("burst defaults to the rate", func(t *testing.T) {
		l := newNamespaceLimiter(0.5, 0, 0)
		assert.Equal(t, 1, l.burst)
	})

	t.Run("idle entries are evicted", func(t *testing.T) {
		l := newNamespaceLimiter(1000, 1000, time.Minute)
		start := time.Now()
		l.Allow("idle", start)

		later := start.Add(2 * time.Minute)
		for i := 0; i < 512; i++ {
			l.Allow("busy", later)
		}
		_, ok := l.byKey["idle"]
		assert.False(t, ok)
		_, ok = l.byKey["busy"]
		assert.True(t, ok)
	})
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path     string
		service  string
		endpoint string
		ok       bool
	}{
		{"/greeter/hello", "greeter", "hello", true},
		{"/greeter/hello/extra", "greeter", "hello", true},
		{"/greeter", "", "", false},
		{"/greeter/", "", "", false},
		{"/", "", "", false},
		{"//hello", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			service, endpoint, err := ParsePath(tt.path)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.service, service)
			assert.Equal(t, tt.endpoint, endpoint)
		})
	}
}
