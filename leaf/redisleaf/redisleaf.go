// Package redisleaf supplies redis connections to services as a leaf
// dependency. Every (namespace, service) pair gets its own key prefix on one
// shared client, so services in different namespaces never see each other's
// keys.
//
// Example:
//
//	h := redisleaf.New(redisleaf.Options{Addr: "localhost:6379"})
//	inj, err := actio.NewInjector(reg, nil, actio.WithHandlers(h))
package redisleaf

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crufters/actio"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TypeName is the parameter type this handler supplies. Declare it with
// actio.Leaf(redisleaf.TypeName).
const TypeName = "RedisClient"

// Options configures the redis client.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int

	// PingTimeout bounds the connectivity check on first use.
	PingTimeout time.Duration

	// Client, if set, is used instead of dialing Addr. It is not closed by Close.
	Client *redis.Client
}

// Conn is the value services receive: the shared client and the prefix their
// keys must carry.
type Conn struct {
	*redis.Client
	Prefix string
}

// Key joins parts under the connection's prefix.
func (c *Conn) Key(parts ...string) string {
	return c.Prefix + ":" + strings.Join(parts, ":")
}

// Handler is an actio.LeafHandler for TypeName.
type Handler struct {
	opts Options

	mu     sync.Mutex
	client *redis.Client
	owned  bool
	conns  map[string]*Conn
	group  singleflight.Group
}

var _ actio.LeafHandler = (*Handler)(nil)

// New creates a Handler. No connection is made until the first Handle.
func New(opts Options) *Handler {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 50
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	return &Handler{
		opts:  opts,
		conns: make(map[string]*Conn),
	}
}

// TypeName implements actio.LeafHandler.
func (h *Handler) TypeName() string {
	return TypeName
}

// Handle returns the Conn for target in namespace, connecting on first use.
// Concurrent calls for the same pair share one result.
func (h *Handler) Handle(ctx context.Context, target *actio.ServiceDescriptor, namespace string) (any, error) {
	prefix := Prefix(namespace, target.Name)

	h.mu.Lock()
	conn, ok := h.conns[prefix]
	h.mu.Unlock()
	if ok {
		return conn, nil
	}

	v, err, _ := h.group.Do(prefix, func() (any, error) {
		client, err := h.connect(ctx)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		defer h.mu.Unlock()

		if conn, ok := h.conns[prefix]; ok {
			return conn, nil
		}
		conn := &Conn{Client: client, Prefix: prefix}
		h.conns[prefix] = conn
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (h *Handler) connect(ctx context.Context) (*redis.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}

	client := h.opts.Client
	owned := false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:         h.opts.Addr,
			Password:     h.opts.Password,
			DB:           h.opts.DB,
			PoolSize:     h.opts.PoolSize,
			MinIdleConns: h.opts.MinIdleConns,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		owned = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, fmt.Errorf("redis %s: %w", h.opts.Addr, err)
	}

	h.client = client
	h.owned = owned
	return client, nil
}

// Prefixes returns the prefixes handed out so far.
func (h *Handler) Prefixes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.conns))
	for p := range h.conns {
		out = append(out, p)
	}
	return out
}

// Close closes the client if the handler created it.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, owned := h.client, h.owned
	h.client = nil
	h.conns = make(map[string]*Conn)
	if client == nil || !owned {
		return nil
	}
	return client.Close()
}

// Prefix is the key prefix for className in namespace, eg. "local__keyvalue"
// for KeyValueService.
func Prefix(namespace, className string) string {
	return namespace + "__" + strings.Replace(strings.ToLower(className), "service", "", 1)
}
