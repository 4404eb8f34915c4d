package actio

import (
	"log/slog"

	"github.com/crufters/actio/metrics"
)

// DefaultNamespace is used when a caller supplies no namespace.
const DefaultNamespace = "local"

// Option configures an Injector.
type Option interface {
	applyOption(*options)
}

// options holds injector configuration.
type options struct {
	nodeID          string
	selfAddress     string
	logger          *slog.Logger
	metrics         *metrics.Metrics
	handlers        []LeafHandler
	addresses       *AddressTable
	envAddresses    bool
	caller          Caller
	wait            WaitPolicy
	skipInit        bool
	fixedNamespaces map[string]string
}

// optionFunc adapts a function to Option.
type optionFunc func(*options)

func (f optionFunc) applyOption(o *options) {
	f(o)
}

// WithNodeID sets the identifier this node reports about itself.
// A random UUID is used when unset.
func WithNodeID(id string) Option {
	return optionFunc(func(o *options) {
		o.nodeID = id
	})
}

// WithSelfAddress sets the base URL other nodes reach this node at.
func WithSelfAddress(address string) Option {
	return optionFunc(func(o *options) {
		o.selfAddress = address
	})
}

// WithLogger sets the logger. slog.Default() is used when unset.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithMetrics records resolve and remote call metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(o *options) {
		o.metrics = m
	})
}

// WithHandlers registers leaf handlers.
func WithHandlers(handlers ...LeafHandler) Option {
	return optionFunc(func(o *options) {
		o.handlers = append(o.handlers, handlers...)
	})
}

// WithAddresses seeds the address table. Classes listed here are served by
// the given nodes and never constructed locally.
func WithAddresses(addresses map[string]string) Option {
	return optionFunc(func(o *options) {
		if o.addresses == nil {
			o.addresses = NewAddressTable(addresses)
			return
		}
		for k, v := range addresses {
			o.addresses.Set(k, v)
		}
	})
}

// WithAddressTable uses table as the address table, so it can be shared with
// other components and changed at runtime.
func WithAddressTable(table *AddressTable) Option {
	return optionFunc(func(o *options) {
		o.addresses = table
	})
}

// WithEnvAddresses also looks up addresses in environment variables named
// after the class.
func WithEnvAddresses() Option {
	return optionFunc(func(o *options) {
		o.envAddresses = true
	})
}

// WithCaller sets the transport used for remote calls. An HTTPCaller with
// http.DefaultClient is used when unset.
func WithCaller(c Caller) Option {
	return optionFunc(func(o *options) {
		o.caller = c
	})
}

// WithWaitPolicy sets how long resolves wait on in-flight constructions.
func WithWaitPolicy(p WaitPolicy) Option {
	return optionFunc(func(o *options) {
		o.wait = p
	})
}

// WithoutInit skips init hooks. Useful in tests and tooling that only need
// the wiring.
func WithoutInit() Option {
	return optionFunc(func(o *options) {
		o.skipInit = true
	})
}

// WithFixedNamespace pins className to namespace regardless of the caller's
// namespace. It takes precedence over the descriptor's own setting.
func WithFixedNamespace(className, namespace string) Option {
	return optionFunc(func(o *options) {
		if o.fixedNamespaces == nil {
			o.fixedNamespaces = make(map[string]string)
		}
		o.fixedNamespaces[className] = namespace
	})
}
