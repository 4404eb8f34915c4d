package actio

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordState is the construction state of one instance record.
type RecordState int

const (
	// Absent means no record exists; the next resolve constructs.
	Absent RecordState = iota

	// InProgress means a construction attempt is in flight. Other resolvers wait.
	InProgress

	// Ready means the instance is built and cached for the life of the process.
	Ready

	// Failed means the attempt failed. The record is removed so a later resolve retries.
	Failed
)

// String returns the string representation of the RecordState.
func (s RecordState) String() string {
	switch s {
	case Absent:
		return "Absent"
	case InProgress:
		return "InProgress"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RecordState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (s RecordState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// InstanceKey identifies an instance record.
type InstanceKey struct {
	Class     string
	Namespace string
}

func (k InstanceKey) String() string {
	return k.Class + "@" + k.Namespace
}

// record is the state machine of one InstanceKey. done is closed when the
// attempt leaves InProgress.
type record struct {
	id        string
	state     RecordState
	value     any
	err       error
	remote    bool
	proxy     *Proxy
	createdAt time.Time
	readySeq  uint64
	done      chan struct{}
}

// InstanceInfo describes one record for introspection.
type InstanceInfo struct {
	ID        string      `json:"id"`
	Class     string      `json:"class"`
	Namespace string      `json:"namespace"`
	State     RecordState `json:"state"`
	Remote    bool        `json:"remote"`
	CreatedAt time.Time   `json:"createdAt"`
}

// recordTable provides thread-safe storage for instance records.
type recordTable struct {
	records map[InstanceKey]*record
	seq     uint64
	mu      sync.Mutex
}

// newRecordTable creates a new record table
func newRecordTable() *recordTable {
	return &recordTable{
		records: make(map[InstanceKey]*record),
	}
}

// acquire performs the single-flight check-then-mark. It returns the existing
// record when one is Ready or InProgress, or a fresh InProgress record owned
// by the caller.
func (t *recordTable) acquire(key InstanceKey) (rec *record, owner bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[key]; ok {
		return rec, false
	}

	rec = &record{
		id:        uuid.NewString(),
		state:     InProgress,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	t.records[key] = rec
	return rec, true
}

// get returns the current record for key.
func (t *recordTable) get(key InstanceKey) (*record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	return rec, ok
}

// complete marks rec Ready. An attempt that was abandoned by a timed out
// waiter is stored only if no other record took its place in the meantime.
func (t *recordTable) complete(key InstanceKey, rec *record, value any, proxy *Proxy) (any, *Proxy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	rec.value = value
	rec.proxy = proxy
	rec.remote = proxy != nil
	rec.state = Ready
	rec.readySeq = t.seq
	close(rec.done)

	current, ok := t.records[key]
	switch {
	case !ok:
		t.records[key] = rec
	case current != rec && current.state == Ready:
		return current.value, current.proxy
	case current != rec:
		// a retry is in flight; leave it alone
	}
	return value, proxy
}

// fail marks rec Failed and removes it so a later resolve retries.
func (t *recordTable) fail(key InstanceKey, rec *record, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec.err = err
	rec.state = Failed
	close(rec.done)

	if t.records[key] == rec {
		delete(t.records, key)
	}
}

// abandon clears an InProgress record after a waiter timed out on it.
func (t *recordTable) abandon(key InstanceKey, rec *record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.records[key] == rec && rec.state == InProgress {
		delete(t.records, key)
	}
}

// replace swaps a Ready local record for a remote-backed one. It reports
// false if stale is no longer the current record.
func (t *recordTable) replace(key InstanceKey, stale *record, value any, proxy *Proxy) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.records[key] != stale {
		return false
	}

	rec := &record{
		id:        uuid.NewString(),
		state:     Ready,
		value:     value,
		proxy:     proxy,
		remote:    true,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	close(rec.done)
	t.records[key] = rec
	return true
}

// snapshot returns info for every record, sorted by class then namespace.
func (t *recordTable) snapshot() []InstanceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]InstanceInfo, 0, len(t.records))
	for key, rec := range t.records {
		out = append(out, InstanceInfo{
			ID:        rec.id,
			Class:     key.Class,
			Namespace: key.Namespace,
			State:     rec.state,
			Remote:    rec.remote,
			CreatedAt: rec.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Namespace < out[j].Namespace
	})
	return out
}

// values returns the Ready local values in the order they became Ready, so
// dependencies precede their dependents.
func (t *recordTable) values() []any {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		if rec.state == Ready && !rec.remote {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].readySeq < recs[j].readySeq })

	out := make([]any, len(recs))
	for i, rec := range recs {
		out[i] = rec.value
	}
	return out
}

// clear removes all records
func (t *recordTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[InstanceKey]*record)
}
