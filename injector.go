package actio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/crufters/actio/internal/graph"
	"github.com/crufters/actio/metrics"
	"github.com/google/uuid"
)

// Injector resolves service instances per (class, namespace).
//
// Each instance is constructed at most once: concurrent resolves of the same
// key wait for the single in-flight construction and observe its result. A
// class with a configured address is never constructed locally; it resolves
// to a Proxy instead and its dependencies and init hook are skipped.
//
// Injector is safe for concurrent use.
//
// Example:
//
//	inj, err := actio.NewInjector(reg, nil,
//	    actio.WithHandlers(redisleaf.New(redisleaf.Options{Addr: "localhost:6379"})),
//	    actio.WithAddresses(map[string]string{"BillingService": "http://billing:8080"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inj.Close()
//
//	users, err := actio.Resolve[*UserService](ctx, inj, "UserService", "tenant-a")
type Injector struct {
	mu     sync.Mutex
	closed bool

	id       string
	self     string
	registry *Registry

	// classes are the descriptors reachable from the roots, by class name
	classes map[string]*ServiceDescriptor
	names   []string
	graph   *graph.DependencyGraph

	records   *recordTable
	handlers  *handlerSet
	addresses *AddressTable
	caller    Caller
	wait      WaitPolicy
	skipInit  bool
	fixed     map[string]string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewInjector creates an Injector for the services reachable from roots.
// A nil or empty roots means every registered service.
//
// Dependency declarations are checked up front: an undefined or unknown
// parameter type, a leaf type without a handler, or a constructor cycle
// without a deferred producer is returned as an error.
func NewInjector(reg *Registry, roots []string, opts ...Option) (*Injector, error) {
	if reg == nil {
		return nil, ErrDescriptorNil
	}

	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyOption(o)
		}
	}

	inj := &Injector{
		id:        o.nodeID,
		self:      o.selfAddress,
		registry:  reg,
		classes:   make(map[string]*ServiceDescriptor),
		records:   newRecordTable(),
		handlers:  newHandlerSet(),
		addresses: o.addresses,
		caller:    o.caller,
		wait:      o.wait.withDefaults(),
		skipInit:  o.skipInit,
		fixed:     o.fixedNamespaces,
		logger:    o.logger,
		metrics:   o.metrics,
	}
	if inj.id == "" {
		inj.id = uuid.NewString()
	}
	if inj.logger == nil {
		inj.logger = slog.Default()
	}
	if inj.addresses == nil {
		inj.addresses = NewAddressTable(nil)
	}
	if o.envAddresses {
		inj.addresses.EnableEnv(true)
	}
	if inj.caller == nil {
		inj.caller = NewHTTPCaller(nil)
	}

	for _, h := range o.handlers {
		if err := inj.handlers.add(h); err != nil {
			return nil, err
		}
	}

	if len(roots) == 0 {
		roots = reg.Names()
	}
	providers := make([]graph.Provider, 0, len(roots))
	for _, name := range roots {
		d, ok := reg.Lookup(name)
		if !ok {
			return nil, ResolutionError{Name: name, Available: reg.Names()}
		}
		providers = append(providers, d)
	}

	resolved, g, err := graph.Resolve(providers, reg.lookupProvider, inj.handlers.has)
	if err != nil {
		return nil, dependencyError(err)
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	for _, p := range resolved {
		d := p.(*ServiceDescriptor)
		_, remote := inj.addresses.Lookup(d.Name)
		for _, param := range d.Params {
			if param.Kind == ParamLeaf && !remote && !inj.handlers.has(param.Name) {
				return nil, DependencyError{Class: d.Name, Cause: fmt.Errorf("no leaf handler for type %s", param.Name)}
			}
		}
		inj.classes[d.Name] = d
		inj.names = append(inj.names, d.Name)
	}
	sort.Strings(inj.names)
	inj.graph = g

	return inj, nil
}

func dependencyError(err error) error {
	var undefined *graph.UndefinedDependencyError
	if errors.As(err, &undefined) {
		return DependencyError{Class: undefined.Provider, Cause: err}
	}
	var unknown *graph.UnknownDependencyError
	if errors.As(err, &unknown) {
		return DependencyError{Class: unknown.Provider, Cause: err}
	}
	return err
}

// Resolve returns the instance of className in namespace, constructing it
// and its dependencies if needed. An empty namespace means DefaultNamespace.
func (inj *Injector) Resolve(ctx context.Context, className, namespace string) (any, error) {
	v, _, err := inj.resolve(ctx, className, namespace)
	return v, err
}

// Resolve is the typed form of Injector.Resolve.
func Resolve[T any](ctx context.Context, inj *Injector, className, namespace string) (T, error) {
	var zero T
	v, err := inj.Resolve(ctx, className, namespace)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s resolved to %T, not %T", className, v, zero)
	}
	return t, nil
}

// Produce resolves className through a deferred producer and asserts its type.
func Produce[T any](ctx context.Context, produce Producer, className string) (T, error) {
	var zero T
	v, err := produce(ctx, className)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s produced %T, not %T", className, v, zero)
	}
	return t, nil
}

// resolve returns the instance and, for remote-backed classes, its proxy.
func (inj *Injector) resolve(ctx context.Context, className, namespace string) (any, *Proxy, error) {
	if inj.isClosed() {
		return nil, nil, ErrInjectorClosed
	}

	desc, ok := inj.classes[className]
	if !ok {
		return nil, nil, ResolutionError{Name: className, Namespace: inj.namespaceFor(nil, className, namespace), Available: inj.names}
	}
	key := InstanceKey{Class: className, Namespace: inj.namespaceFor(desc, className, namespace)}
	start := time.Now()

	rec, owner := inj.records.acquire(key)
	if !owner {
		if finished(rec) {
			return inj.ready(key, desc, rec, start, metrics.Cached)
		}

		inj.logger.Debug("waiting for instance", "class", key.Class, "namespace", key.Namespace)
		if !inj.wait.wait(rec) {
			inj.records.abandon(key, rec)
			inj.metrics.ObserveResolve(className, metrics.TimedOut, time.Since(start))
			return nil, nil, TimeoutError{Class: key.Class, Namespace: key.Namespace, Timeout: inj.wait.Timeout}
		}
		return inj.ready(key, desc, rec, start, metrics.Waited)
	}

	value, proxy, err := inj.build(ctx, desc, key)
	if err != nil {
		inj.records.fail(key, rec, err)
		inj.metrics.ObserveResolve(className, metrics.Failed, time.Since(start))
		return nil, nil, err
	}

	outcome := metrics.Constructed
	if proxy != nil {
		outcome = metrics.Proxied
	}
	inj.metrics.ObserveResolve(className, outcome, time.Since(start))

	value, proxy = inj.records.complete(key, rec, value, proxy)
	if proxy == nil {
		// the address may have been set while the local build ran
		if addr, ok := inj.addresses.Lookup(key.Class); ok {
			value, proxy = inj.replaceLocal(key, desc, rec, addr)
		}
	}
	return value, proxy, nil
}

// ready returns a finished record's value. A failed record yields a
// WaitError. A local instance of a class that has since been given an
// address is replaced by a proxy.
func (inj *Injector) ready(key InstanceKey, desc *ServiceDescriptor, rec *record, start time.Time, outcome string) (any, *Proxy, error) {
	if rec.state != Ready {
		inj.metrics.ObserveResolve(key.Class, metrics.Failed, time.Since(start))
		return nil, nil, WaitError{Class: key.Class, Namespace: key.Namespace, Cause: rec.err}
	}

	if rec.remote {
		inj.metrics.ObserveResolve(key.Class, outcome, time.Since(start))
		return rec.value, rec.proxy, nil
	}

	if addr, ok := inj.addresses.Lookup(key.Class); ok {
		value, proxy := inj.replaceLocal(key, desc, rec, addr)
		return value, proxy, nil
	}

	inj.metrics.ObserveResolve(key.Class, outcome, time.Since(start))
	return rec.value, nil, nil
}

// replaceLocal swaps the local instance in rec for a proxy to addr.
func (inj *Injector) replaceLocal(key InstanceKey, desc *ServiceDescriptor, rec *record, addr string) (any, *Proxy) {
	inj.logger.Info("address configured, replacing local instance with proxy",
		"class", key.Class, "namespace", key.Namespace, "address", addr)
	value, proxy := inj.remote(desc, addr, key.Namespace)
	if inj.records.replace(key, rec, value, proxy) {
		inj.metrics.InstanceReplaced()
	}
	return value, proxy
}

// build runs one construction attempt for key.
func (inj *Injector) build(ctx context.Context, desc *ServiceDescriptor, key InstanceKey) (any, *Proxy, error) {
	if addr, ok := inj.addresses.Lookup(desc.Name); ok {
		inj.logger.Debug("creating proxy", "class", key.Class, "namespace", key.Namespace, "address", addr)
		value, proxy := inj.remote(desc, addr, key.Namespace)
		return value, proxy, nil
	}

	ctx = context.WithoutCancel(ctx)
	inj.logger.Debug("constructing instance", "class", key.Class, "namespace", key.Namespace)

	args, err := inj.wire(ctx, desc, key.Namespace)
	if err != nil {
		return nil, nil, err
	}

	instance, err := construct(desc, args)
	if err != nil {
		return nil, nil, err
	}

	if init, ok := instance.(Initializer); ok && !inj.skipInit {
		if err := runInit(ctx, desc, init); err != nil {
			inj.metrics.ObserveInitFailure(desc.Name)
			inj.logger.Error("init hook failed",
				"class", key.Class, "namespace", key.Namespace, "error", err)
		}
	}

	return instance, nil, nil
}

// wire resolves the constructor arguments of desc in declared order.
func (inj *Injector) wire(ctx context.Context, desc *ServiceDescriptor, namespace string) (Args, error) {
	args := make(Args, len(desc.Params))
	for i, p := range desc.Params {
		switch {
		case p.Kind == ParamProducer:
			args[i] = inj.producer(namespace)
		case p.Kind == ParamSelf:
			args[i] = inj
		case p.Kind == ParamLeaf || inj.handlers.has(p.Name):
			v, err := inj.leaf(ctx, p.Name, desc, namespace)
			if err != nil {
				return nil, err
			}
			args[i] = v
		case p.Name == "":
			return nil, DependencyError{Class: desc.Name, Cause: &graph.UndefinedDependencyError{
				Provider: desc.Name, Index: i, Params: desc.GetDependencies(),
			}}
		default:
			v, _, err := inj.resolve(ctx, p.Name, namespace)
			if err != nil {
				return nil, fmt.Errorf("resolving %s for %s: %w", p.Name, desc.Name, err)
			}
			args[i] = v
		}
	}
	return args, nil
}

func (inj *Injector) leaf(ctx context.Context, typeName string, desc *ServiceDescriptor, namespace string) (any, error) {
	h, ok := inj.handlers.get(typeName)
	if !ok {
		return nil, DependencyError{Class: desc.Name, Cause: fmt.Errorf("no leaf handler for type %s", typeName)}
	}
	v, err := h.Handle(ctx, desc, namespace)
	if err != nil {
		return nil, fmt.Errorf("leaf handler %s for %s: %w", typeName, desc.Name, err)
	}
	return v, nil
}

// producer returns a Producer bound to namespace.
func (inj *Injector) producer(namespace string) Producer {
	return func(ctx context.Context, className string) (any, error) {
		return inj.Resolve(ctx, className, namespace)
	}
}

func (inj *Injector) remote(desc *ServiceDescriptor, address, namespace string) (any, *Proxy) {
	p := NewProxy(inj.caller, address, desc.Name, namespace)
	p.metrics = inj.metrics
	if desc.RemoteClient != nil {
		return desc.RemoteClient(p), p
	}
	return p, p
}

func (inj *Injector) namespaceFor(desc *ServiceDescriptor, className, namespace string) string {
	if ns, ok := inj.fixed[className]; ok && ns != "" {
		return ns
	}
	if desc != nil && desc.FixedNamespace != "" {
		return desc.FixedNamespace
	}
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}

func construct(desc *ServiceDescriptor, args Args) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Class: desc.Name, Panic: r, Stack: debug.Stack()}
		}
	}()
	instance, err = desc.Constructor(args)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", desc.Name, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("constructing %s: constructor returned nil", desc.Name)
	}
	return instance, nil
}

func runInit(ctx context.Context, desc *ServiceDescriptor, init Initializer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Class: desc.Name, Method: "OnInit", Panic: r, Stack: debug.Stack()}
		}
	}()
	return init.OnInit(ctx)
}

func (inj *Injector) isClosed() bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.closed
}

// NodeID returns the identifier of this node.
func (inj *Injector) NodeID() string { return inj.id }

// SelfAddress returns the base URL of this node, if configured.
func (inj *Injector) SelfAddress() string { return inj.self }

// Registry returns the registry the injector was built from.
func (inj *Injector) Registry() *Registry { return inj.registry }

// Addresses returns the address table. Changes take effect on the next resolve.
func (inj *Injector) Addresses() *AddressTable { return inj.addresses }

// Caller returns the transport used for remote calls.
func (inj *Injector) Caller() Caller { return inj.caller }

// Logger returns the injector's logger.
func (inj *Injector) Logger() *slog.Logger { return inj.logger }

// Metrics returns the injector's metrics, which may be nil.
func (inj *Injector) Metrics() *metrics.Metrics { return inj.metrics }

// AvailableClassNames returns the sorted class names this injector can resolve.
func (inj *Injector) AvailableClassNames() []string {
	out := make([]string, len(inj.names))
	copy(out, inj.names)
	return out
}

// ClassByName returns the descriptor of className.
func (inj *Injector) ClassByName(className string) (*ServiceDescriptor, bool) {
	d, ok := inj.classes[className]
	return d, ok
}

// ClassByMetaName returns the descriptor whose short metadata name is metaName.
func (inj *Injector) ClassByMetaName(metaName string) (*ServiceDescriptor, bool) {
	if metaName == "" {
		return nil, false
	}
	for _, name := range inj.names {
		if d := inj.classes[name]; d.MetaName == metaName {
			return d, true
		}
	}
	return nil, false
}

// Dependents returns the classes whose constructors take className directly.
func (inj *Injector) Dependents(className string) []string {
	keys := inj.graph.GetDependents(className)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	sort.Strings(out)
	return out
}

// Instances describes every instance record, Ready or in progress.
func (inj *Injector) Instances() []InstanceInfo {
	return inj.records.snapshot()
}
