package testutil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/crufters/actio"
)

// GreeterClass is the class name of GreeterService.
const GreeterClass = "GreeterService"

// NodeOption configures a NodeService fixture.
type NodeOption func(*nodeConfig)

type nodeConfig struct {
	delay     time.Duration
	failTimes int32
	initErr   error
	closeErr  error
	panics    bool
	defines   []actio.DefineOption
}

// WithDelay makes the constructor sleep before returning.
func WithDelay(d time.Duration) NodeOption {
	return func(c *nodeConfig) { c.delay = d }
}

// FailFirst makes the first n constructions fail with ErrConstructor.
func FailFirst(n int) NodeOption {
	return func(c *nodeConfig) { c.failTimes = int32(n) }
}

// WithInitError makes the init hook fail.
func WithInitError(err error) NodeOption {
	return func(c *nodeConfig) { c.initErr = err }
}

// WithCloseError makes Close fail.
func WithCloseError(err error) NodeOption {
	return func(c *nodeConfig) { c.closeErr = err }
}

// Panics makes the constructor panic.
func Panics() NodeOption {
	return func(c *nodeConfig) { c.panics = true }
}

// WithDefine passes extra options to actio.Define.
func WithDefine(opts ...actio.DefineOption) NodeOption {
	return func(c *nodeConfig) { c.defines = append(c.defines, opts...) }
}

// NodeService defines a class whose constructor returns a *Node holding its
// arguments and reports to counter.
func NodeService(class string, counter *Counter, params []actio.ParamType, opts ...NodeOption) *actio.ServiceDescriptor {
	cfg := &nodeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	var failures atomic.Int32

	ctor := func(args actio.Args) (any, error) {
		counter.constructed(class)
		if cfg.delay > 0 {
			time.Sleep(cfg.delay)
		}
		if cfg.panics {
			panic("constructor panic in " + class)
		}
		if failures.Add(1) <= cfg.failTimes {
			return nil, ErrConstructor
		}
		return &Node{
			ID:       newID(),
			Class:    class,
			Deps:     args,
			counter:  counter,
			initErr:  cfg.initErr,
			closeErr: cfg.closeErr,
		}, nil
	}

	defines := append([]actio.DefineOption{actio.Params(params...)}, cfg.defines...)
	return actio.Define(class, ctor, defines...)
}

// GreeterService defines the Greeter class. It takes the "Prefix" leaf and
// records the namespace it was built in through the "Namespace" leaf.
func GreeterService(opts ...actio.DefineOption) *actio.ServiceDescriptor {
	defines := []actio.DefineOption{
		actio.Params(actio.Leaf("Prefix"), actio.Leaf("Namespace")),
		actio.Name("greeter"),
		actio.Endpoints(
			actio.Handler("hello", (*Greeter).Hello),
			actio.Handler2("add", (*Greeter).Add),
			actio.Handler0("whoami", (*Greeter).Whoami),
			actio.Handler0("secret", (*Greeter).Secret, actio.Unexposed()),
			actio.Handler("fail", (*Greeter).Fail),
			actio.Handler0("boom", (*Greeter).Boom),
			actio.Raw("echo", (*Greeter).Echo),
		),
	}
	return actio.Define(GreeterClass,
		func(args actio.Args) (any, error) {
			prefix, err := actio.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			ns, err := actio.Arg[string](args, 1)
			if err != nil {
				return nil, err
			}
			return &Greeter{Prefix: prefix, Namespace: ns}, nil
		},
		append(defines, opts...)...,
	)
}

// GreeterLeaves are the leaf handlers GreeterService needs.
func GreeterLeaves(prefix string) []actio.LeafHandler {
	return []actio.LeafHandler{
		StaticLeaf("Prefix", prefix),
		actio.LeafFunc("Namespace", func(ctx context.Context, target *actio.ServiceDescriptor, namespace string) (any, error) {
			return namespace, nil
		}),
	}
}

// StaticLeaf returns value for every request of typeName.
func StaticLeaf(typeName string, value any) actio.LeafHandler {
	return actio.LeafFunc(typeName, func(ctx context.Context, target *actio.ServiceDescriptor, namespace string) (any, error) {
		return value, nil
	})
}

func readAll(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	var b strings.Builder
	_, _ = io.Copy(&b, r.Body)
	return b.String()
}
