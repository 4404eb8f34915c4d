package keyvalue

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/crufters/actio"
	"github.com/crufters/actio/leaf/redisleaf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

// newService returns a Service on a fresh miniredis for the given instance
// namespace, with a controllable clock.
func newService(t *testing.T, mr *miniredis.Miniredis, namespace string) (*Service, *time.Time) {
	t.Helper()
	h := redisleaf.New(redisleaf.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = h.Close() })

	v, err := h.Handle(ctx, Descriptor, namespace)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(v.(*redisleaf.Conn))
	s.now = func() time.Time { return now }
	return s, &now
}

func TestService_SetGet(t *testing.T) {
	s, _ := newService(t, miniredis.RunT(t), "local")

	set, err := s.Set(ctx, SetRequest{Value: &Value{
		Namespace: "home",
		Key:       "layout",
		Value:     map[string]any{"columns": float64(3)},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, set.Value.ID)

	got, err := s.Get(ctx, GetRequest{Namespace: "home", Key: "layout"})
	require.NoError(t, err)
	require.NotNil(t, got.Value)
	assert.Equal(t, set.Value.ID, got.Value.ID)
	assert.Equal(t, map[string]any{"columns": float64(3)}, got.Value.Value)

	missing, err := s.Get(ctx, GetRequest{Namespace: "home", Key: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing.Value)
}

func TestService_SetMerges(t *testing.T) {
	s, now := newService(t, miniredis.RunT(t), "local")
	created := *now

	first, err := s.Set(ctx, SetRequest{Value: &Value{
		Namespace: "apps",
		Key:       "settings",
		Value: map[string]any{
			"theme": "dark",
			"editor": map[string]any{
				"tabs": float64(2),
				"wrap": true,
			},
		},
	}})
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	second, err := s.Set(ctx, SetRequest{Value: &Value{
		ID:        "ignored",
		Namespace: "apps",
		Key:       "settings",
		Value: map[string]any{
			"editor": map[string]any{"tabs": float64(4)},
			"plugins": []any{"git"},
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, first.Value.ID, second.Value.ID)
	assert.Equal(t, created, second.Value.CreatedAt)
	assert.Equal(t, now.UTC(), second.Value.UpdatedAt)
	assert.Equal(t, map[string]any{
		"theme": "dark",
		"editor": map[string]any{
			"tabs": float64(4),
			"wrap": true,
		},
		"plugins": []any{"git"},
	}, second.Value.Value)

	got, err := s.Get(ctx, GetRequest{Namespace: "apps", Key: "settings"})
	require.NoError(t, err)
	assert.Equal(t, second.Value.Value, got.Value.Value)
}

func TestService_Validation(t *testing.T) {
	s, _ := newService(t, miniredis.RunT(t), "local")

	tests := []struct {
		name string
		call func() error
	}{
		{"set without value", func() error {
			_, err := s.Set(ctx, SetRequest{})
			return err
		}},
		{"set without key", func() error {
			_, err := s.Set(ctx, SetRequest{Value: &Value{Namespace: "home"}})
			return err
		}},
		{"set without namespace", func() error {
			_, err := s.Set(ctx, SetRequest{Value: &Value{Key: "k"}})
			return err
		}},
		{"get without key", func() error {
			_, err := s.Get(ctx, GetRequest{Namespace: "home"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, actio.StatusOf(err))
		})
	}
}

func TestService_List(t *testing.T) {
	s, _ := newService(t, miniredis.RunT(t), "local")

	for _, key := range []string{"c", "a", "b"} {
		_, err := s.Set(ctx, SetRequest{Value: &Value{Namespace: "home", Key: key}})
		require.NoError(t, err)
	}
	_, err := s.Set(ctx, SetRequest{Value: &Value{Namespace: "other", Key: "z"}})
	require.NoError(t, err)

	rsp, err := s.List(ctx, ListRequest{Namespace: "home"})
	require.NoError(t, err)
	require.Len(t, rsp.Values, 3)
	assert.Equal(t, "a", rsp.Values[0].Key)
	assert.Equal(t, "b", rsp.Values[1].Key)
	assert.Equal(t, "c", rsp.Values[2].Key)

	empty, err := s.List(ctx, ListRequest{Namespace: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, empty.Values)
}

func TestService_NamespaceIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	a, _ := newService(t, mr, "tenant-a")
	b, _ := newService(t, mr, "tenant-b")

	_, err := a.Set(ctx, SetRequest{Value: &Value{Namespace: "home", Key: "k", Value: map[string]any{"owner": "a"}}})
	require.NoError(t, err)

	got, err := b.Get(ctx, GetRequest{Namespace: "home", Key: "k"})
	require.NoError(t, err)
	assert.Nil(t, got.Value)

	assert.True(t, mr.Exists("tenant-a__keyvalue:values:home"))
	assert.False(t, mr.Exists("tenant-b__keyvalue:values:home"))
}

func TestMergeDeep(t *testing.T) {
	tests := []struct {
		name string
		dst  map[string]any
		src  map[string]any
		want map[string]any
	}{
		{"nil destination", nil, map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"scalar replaces", map[string]any{"a": 1}, map[string]any{"a": 2}, map[string]any{"a": 2}},
		{"map replaces scalar", map[string]any{"a": 1}, map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": map[string]any{"b": 1}}},
		{"scalar replaces map", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"arrays replace", map[string]any{"a": []any{1, 2}}, map[string]any{"a": []any{3}}, map[string]any{"a": []any{3}}},
		{"nested merge", map[string]any{"a": map[string]any{"b": 1, "c": 2}}, map[string]any{"a": map[string]any{"c": 3}}, map[string]any{"a": map[string]any{"b": 1, "c": 3}}},
		{"empty source", map[string]any{"a": 1}, nil, map[string]any{"a": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeDeep(tt.dst, tt.src))
		})
	}
}
