// Package keyvalue is a JSON document store over redis, exposed as the
// "key-value" service. Values are grouped by a caller-chosen namespace (eg.
// "home", "apps") inside the instance namespace, and updates deep-merge into
// the stored document.
package keyvalue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/crufters/actio"
	"github.com/crufters/actio/leaf/redisleaf"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClassName is the registered class name.
const ClassName = "KeyValueService"

// Descriptor registers KeyValueService.
var Descriptor = actio.Define(ClassName,
	func(args actio.Args) (any, error) {
		conn, err := actio.Arg[*redisleaf.Conn](args, 0)
		if err != nil {
			return nil, err
		}
		return New(conn), nil
	},
	actio.Params(actio.Leaf(redisleaf.TypeName)),
	actio.Name("key-value"),
	actio.Endpoints(
		actio.Handler("set", (*Service).Set),
		actio.Handler("get", (*Service).Get),
		actio.Handler("list", (*Service).List),
	),
)

// maxTxRetries bounds optimistic retries when a concurrent writer touches
// the same key.
const maxTxRetries = 10

var (
	errKeyRequired       = actio.Error("key is required", http.StatusBadRequest)
	errNamespaceRequired = actio.Error("namespace is required", http.StatusBadRequest)
)

// Value is one stored document.
type Value struct {
	ID        string         `json:"id,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
	Key       string         `json:"key,omitempty"`
	Value     map[string]any `json:"value,omitempty"`
	Public    bool           `json:"public,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// SetRequest carries the value to store. Its Namespace and Key are required.
type SetRequest struct {
	Value *Value `json:"value,omitempty"`
}

// SetResponse is the value as stored after merging.
type SetResponse struct {
	Value *Value `json:"value,omitempty"`
}

// GetRequest names the value to read.
type GetRequest struct {
	Namespace string `json:"namespace,omitempty"`
	Key       string `json:"key,omitempty"`
}

// GetResponse holds the value, or nil if the key does not exist.
type GetResponse struct {
	Value *Value `json:"value"`
}

// ListRequest names the namespace to list.
type ListRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// ListResponse holds the namespace's values ordered by key.
type ListResponse struct {
	Values []*Value `json:"values"`
}

// Service implements the key-value endpoints.
type Service struct {
	conn *redisleaf.Conn
	now  func() time.Time
}

// New creates a Service on conn.
func New(conn *redisleaf.Conn) *Service {
	return &Service{conn: conn, now: time.Now}
}

func (s *Service) hash(namespace string) string {
	return s.conn.Key("values", namespace)
}

// Set stores a value. If the key already exists, the incoming document is
// deep-merged into the stored one and the original id and creation time are kept.
func (s *Service) Set(ctx context.Context, req SetRequest) (*SetResponse, error) {
	if req.Value == nil || req.Value.Key == "" {
		return nil, errKeyRequired
	}
	if req.Value.Namespace == "" {
		return nil, errNamespaceRequired
	}

	hash := s.hash(req.Value.Namespace)
	var saved *Value

	txf := func(tx *redis.Tx) error {
		existing, err := load(ctx, tx, hash, req.Value.Key)
		if err != nil {
			return err
		}

		v := *req.Value
		now := s.now().UTC()
		if existing == nil {
			v.ID = uuid.NewString()
			v.CreatedAt = now
		} else {
			v.ID = existing.ID
			v.CreatedAt = existing.CreatedAt
			v.Value = mergeDeep(existing.Value, v.Value)
		}
		v.UpdatedAt = now

		data, err := json.Marshal(&v)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, v.Key, data)
			return nil
		})
		if err == nil {
			saved = &v
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.conn.Watch(ctx, txf, hash)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &SetResponse{Value: saved}, nil
	}
	return nil, actio.Error("too much contention on "+req.Value.Key, http.StatusConflict)
}

// Get returns the value for a key, or a nil value if there is none.
func (s *Service) Get(ctx context.Context, req GetRequest) (*GetResponse, error) {
	if req.Key == "" {
		return nil, errKeyRequired
	}
	v, err := load(ctx, s.conn, s.hash(req.Namespace), req.Key)
	if err != nil {
		return nil, err
	}
	return &GetResponse{Value: v}, nil
}

// List returns every value in a namespace, ordered by key.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	all, err := s.conn.HGetAll(ctx, s.hash(req.Namespace)).Result()
	if err != nil {
		return nil, err
	}

	values := make([]*Value, 0, len(all))
	for _, raw := range all {
		v := &Value{}
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Key < values[j].Key })

	return &ListResponse{Values: values}, nil
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func load(ctx context.Context, c hashGetter, hash, key string) (*Value, error) {
	raw, err := c.HGet(ctx, hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := &Value{}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return nil, err
	}
	return v, nil
}

// mergeDeep overlays src onto dst, recursing into nested objects. Arrays and
// scalars in src replace those in dst.
func mergeDeep(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = mergeDeep(dm, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}
