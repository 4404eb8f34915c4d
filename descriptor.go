package actio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/crufters/actio/internal/graph"
)

// ParamKind classifies a constructor parameter.
type ParamKind int

const (
	// ParamService is another registered service, resolved in the same namespace.
	ParamService ParamKind = iota

	// ParamLeaf is a value supplied by the leaf handler with the matching type name.
	ParamLeaf

	// ParamProducer is the deferred producer marker. The constructor receives a
	// Producer bound to the caller's namespace.
	ParamProducer

	// ParamSelf is the lifecycle-manager marker. The constructor receives the *Injector.
	ParamSelf
)

// String returns the string representation of the ParamKind.
func (k ParamKind) String() string {
	switch k {
	case ParamService:
		return "service"
	case ParamLeaf:
		return "leaf"
	case ParamProducer:
		return "producer"
	case ParamSelf:
		return "self"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// ParamType is one ordered constructor dependency.
type ParamType struct {
	Kind ParamKind
	Name string
}

// String returns the type reference as shown in error messages.
func (p ParamType) String() string {
	switch p.Kind {
	case ParamProducer:
		return "Producer"
	case ParamSelf:
		return "Injector"
	}
	if p.Name == "" {
		return "undefined"
	}
	return p.Name
}

// Dep declares a dependency on another service (or, if a leaf handler with
// that type name exists, on the handler's value). An empty name is an
// undefined type and fails graph resolution.
func Dep(className string) ParamType { return ParamType{Kind: ParamService, Name: className} }

// Leaf declares a dependency supplied by the leaf handler for typeName.
func Leaf(typeName string) ParamType { return ParamType{Kind: ParamLeaf, Name: typeName} }

// DeferredProducer declares a Producer parameter, used to break constructor-time cycles.
func DeferredProducer() ParamType { return ParamType{Kind: ParamProducer} }

// Self declares a parameter receiving the *Injector itself.
func Self() ParamType { return ParamType{Kind: ParamSelf} }

// Producer lazily resolves a service by class name in the namespace of the
// instance that received it.
type Producer func(ctx context.Context, className string) (any, error)

// Args holds resolved constructor arguments in declared order.
type Args []any

// Arg returns the i-th argument as T.
func Arg[T any](args Args, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("argument %d out of range (%d arguments)", i, len(args))
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("argument %d is %T, not %T", i, args[i], zero)
	}
	return v, nil
}

// MustArg is like Arg but panics on mismatch. Constructor panics are reported
// as construction failures.
func MustArg[T any](args Args, i int) T {
	v, err := Arg[T](args, i)
	if err != nil {
		panic(err)
	}
	return v
}

// Constructor builds a service instance from its resolved arguments.
type Constructor func(args Args) (any, error)

// Initializer is implemented by services that need a one-time init hook.
// OnInit runs once per instance after construction; a failure is logged and
// does not fail construction.
type Initializer interface {
	OnInit(ctx context.Context) error
}

// ServiceDescriptor records a service's ordered constructor dependencies and
// its method table. It is immutable once registered.
type ServiceDescriptor struct {
	// Name is the class name, used for addressing and as the instance key
	Name string

	// MetaName is the optional short name the dispatcher accepts
	MetaName string

	// FixedNamespace, if set, replaces any caller namespace
	FixedNamespace string

	// Params are the ordered constructor dependencies
	Params []ParamType

	// Constructor builds the instance
	Constructor Constructor

	// Methods is the wire-name method table
	Methods map[string]*Method

	// RemoteClient wraps a proxy in a typed client when the class is remote-backed
	RemoteClient func(*Proxy) any
}

// DefineOption configures a ServiceDescriptor.
type DefineOption interface {
	applyDefineOption(*ServiceDescriptor)
}

type defineOptionFunc func(*ServiceDescriptor)

func (f defineOptionFunc) applyDefineOption(d *ServiceDescriptor) { f(d) }

// Params sets the ordered constructor dependencies.
func Params(params ...ParamType) DefineOption {
	return defineOptionFunc(func(d *ServiceDescriptor) {
		d.Params = append(d.Params, params...)
	})
}

// Name sets the short metadata name the dispatcher accepts, eg. "key-value".
func Name(metaName string) DefineOption {
	return defineOptionFunc(func(d *ServiceDescriptor) {
		d.MetaName = metaName
	})
}

// FixedNamespace makes every resolve of this class use namespace, producing
// one process-wide shared instance.
func FixedNamespace(namespace string) DefineOption {
	return defineOptionFunc(func(d *ServiceDescriptor) {
		d.FixedNamespace = namespace
	})
}

// Endpoints adds methods to the service's method table.
func Endpoints(methods ...*Method) DefineOption {
	return defineOptionFunc(func(d *ServiceDescriptor) {
		for _, m := range methods {
			if m != nil {
				d.Methods[m.Name] = m
			}
		}
	})
}

// RemoteClient supplies a typed client used in place of the bare *Proxy when
// the class is backed by another node. The client should implement the same
// interface dependents use for the local service.
func RemoteClient(wrap func(*Proxy) any) DefineOption {
	return defineOptionFunc(func(d *ServiceDescriptor) {
		d.RemoteClient = wrap
	})
}

// Define creates a service descriptor.
//
// Example:
//
//	var Users = actio.Define("UserService",
//	    func(args actio.Args) (any, error) {
//	        return NewUserService(actio.MustArg[*redisleaf.Conn](args, 0)), nil
//	    },
//	    actio.Params(actio.Leaf(redisleaf.TypeName)),
//	    actio.Name("users"),
//	    actio.Endpoints(
//	        actio.Handler("userRead", (*UserService).UserRead),
//	    ),
//	)
func Define(className string, ctor Constructor, opts ...DefineOption) *ServiceDescriptor {
	d := &ServiceDescriptor{
		Name:        className,
		Constructor: ctor,
		Methods:     make(map[string]*Method),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyDefineOption(d)
		}
	}
	return d
}

// Validate checks the descriptor's configuration.
func (d *ServiceDescriptor) Validate() error {
	if d == nil {
		return ErrDescriptorNil
	}
	if strings.TrimSpace(d.Name) == "" {
		return RegistrationError{Class: "<unnamed>", Operation: "define", Cause: ErrClassNameEmpty}
	}
	if d.Constructor == nil {
		return RegistrationError{Class: d.Name, Operation: "define", Cause: ErrConstructorNil}
	}
	for name, m := range d.Methods {
		if m.invoke == nil && m.raw == nil {
			return RegistrationError{Class: d.Name, Operation: "define", Cause: fmt.Errorf("method %s has no implementation", name)}
		}
	}
	return nil
}

// GetName implements graph.Provider.
func (d *ServiceDescriptor) GetName() string {
	return d.Name
}

// GetDependencies implements graph.Provider.
func (d *ServiceDescriptor) GetDependencies() []graph.Dependency {
	deps := make([]graph.Dependency, len(d.Params))
	for i, p := range d.Params {
		switch p.Kind {
		case ParamService:
			deps[i] = graph.Dependency{Kind: graph.Service, Name: p.Name}
		case ParamLeaf:
			deps[i] = graph.Dependency{Kind: graph.Leaf, Name: p.Name}
		default:
			deps[i] = graph.Dependency{Kind: graph.Marker}
		}
	}
	return deps
}

// Method returns the method with the given wire name.
func (d *ServiceDescriptor) Method(name string) (*Method, bool) {
	m, ok := d.Methods[name]
	return m, ok
}

// MethodNames returns the sorted wire names of all methods.
func (d *ServiceDescriptor) MethodNames() []string {
	names := make([]string, 0, len(d.Methods))
	for name := range d.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsUnexposed reports whether method is registered and hidden from the wire.
func (d *ServiceDescriptor) IsUnexposed(method string) bool {
	m, ok := d.Methods[method]
	return ok && m.Unexposed
}

// IsRaw reports whether method is registered as a raw HTTP method.
func (d *ServiceDescriptor) IsRaw(method string) bool {
	m, ok := d.Methods[method]
	return ok && m.Raw
}
