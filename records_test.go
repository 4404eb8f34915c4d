package actio

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTable(t *testing.T) {
	key := InstanceKey{Class: "AService", Namespace: "x"}

	t.Run("acquire is check then mark", func(t *testing.T) {
		table := newRecordTable()

		rec, owner := table.acquire(key)
		require.True(t, owner)
		assert.Equal(t, InProgress, rec.state)

		again, owner := table.acquire(key)
		assert.False(t, owner)
		assert.Same(t, rec, again)
		assert.False(t, finished(rec))
	})

	t.Run("complete stores and releases waiters", func(t *testing.T) {
		table := newRecordTable()
		rec, _ := table.acquire(key)

		value, proxy := table.complete(key, rec, "instance", nil)
		assert.Equal(t, "instance", value)
		assert.Nil(t, proxy)
		assert.True(t, finished(rec))

		got, ok := table.get(key)
		require.True(t, ok)
		assert.Equal(t, Ready, got.state)
	})

	t.Run("fail removes the record", func(t *testing.T) {
		table := newRecordTable()
		rec, _ := table.acquire(key)

		table.fail(key, rec, errors.New("boom"))
		assert.True(t, finished(rec))
		assert.Equal(t, Failed, rec.state)

		_, ok := table.get(key)
		assert.False(t, ok)
	})

	t.Run("late completion after abandon", func(t *testing.T) {
		table := newRecordTable()
		stale, _ := table.acquire(key)
		table.abandon(key, stale)

		retry, owner := table.acquire(key)
		require.True(t, owner)
		table.complete(key, retry, "retry", nil)

		value, _ := table.complete(key, stale, "stale", nil)
		assert.Equal(t, "retry", value, "the Ready retry wins")

		got, _ := table.get(key)
		assert.Same(t, retry, got)
	})

	t.Run("late completion with nothing in its place is stored", func(t *testing.T) {
		table := newRecordTable()
		stale, _ := table.acquire(key)
		table.abandon(key, stale)

		value, _ := table.complete(key, stale, "stale", nil)
		assert.Equal(t, "stale", value)

		got, ok := table.get(key)
		require.True(t, ok)
		assert.Same(t, stale, got)
	})

	t.Run("abandon leaves Ready records alone", func(t *testing.T) {
		table := newRecordTable()
		rec, _ := table.acquire(key)
		table.complete(key, rec, "v", nil)

		table.abandon(key, rec)
		_, ok := table.get(key)
		assert.True(t, ok)
	})

	t.Run("replace", func(t *testing.T) {
		table := newRecordTable()
		rec, _ := table.acquire(key)
		table.complete(key, rec, "local", nil)

		p := NewProxy(nil, "http://a:8080", "AService", "x")
		assert.True(t, table.replace(key, rec, p, p))
		assert.False(t, table.replace(key, rec, p, p), "stale record")

		got, _ := table.get(key)
		assert.True(t, got.remote)
		assert.Empty(t, table.values(), "remote records are not closed")
	})

	t.Run("values in ready order", func(t *testing.T) {
		table := newRecordTable()
		for _, class := range []string{"C", "A", "B"} {
			k := InstanceKey{Class: class, Namespace: "x"}
			rec, _ := table.acquire(k)
			table.complete(k, rec, class, nil)
		}
		pending := InstanceKey{Class: "D", Namespace: "x"}
		table.acquire(pending)

		assert.Equal(t, []any{"C", "A", "B"}, table.values())

		snap := table.snapshot()
		require.Len(t, snap, 4)
		assert.Equal(t, "A", snap[0].Class)
		assert.Equal(t, InProgress, snap[3].State)

		table.clear()
		assert.Empty(t, table.snapshot())
	})
}

func TestRecordState(t *testing.T) {
	assert.Equal(t, "Absent", Absent.String())
	assert.Equal(t, "Ready", Ready.String())
	assert.Equal(t, "Unknown(9)", RecordState(9).String())

	data, err := json.Marshal(InstanceInfo{Class: "AService", Namespace: "x", State: InProgress})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"InProgress"`)

	assert.Equal(t, "AService@x", InstanceKey{Class: "AService", Namespace: "x"}.String())
}

func TestWaitPolicy(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := WaitPolicy{}.withDefaults()
		assert.Equal(t, DefaultWaitPolicy, p)

		custom := WaitPolicy{Initial: time.Millisecond, Multiplier: 2, Timeout: time.Second}.withDefaults()
		assert.Equal(t, 2.0, custom.Multiplier)
	})

	t.Run("returns when the record finishes", func(t *testing.T) {
		table := newRecordTable()
		key := InstanceKey{Class: "AService", Namespace: "x"}
		rec, _ := table.acquire(key)

		go func() {
			time.Sleep(20 * time.Millisecond)
			table.complete(key, rec, "v", nil)
		}()

		p := WaitPolicy{Initial: 5 * time.Millisecond, Multiplier: 1.1, Timeout: time.Second}
		assert.True(t, p.wait(rec))
	})

	t.Run("times out", func(t *testing.T) {
		table := newRecordTable()
		rec, _ := table.acquire(InstanceKey{Class: "AService"})

		p := WaitPolicy{Initial: 5 * time.Millisecond, Multiplier: 1.1, Timeout: 30 * time.Millisecond}
		start := time.Now()
		assert.False(t, p.wait(rec))
		assert.Less(t, time.Since(start), time.Second)
	})
}
