package actio

import (
	"sort"
	"sync"

	"github.com/crufters/actio/internal/graph"
)

// Registry records service descriptors by class name.
//
// Registration is idempotent: registering the same descriptor twice is a
// no-op, registering a different descriptor under a taken name fails.
// Descriptors are immutable once registered.
//
// Example:
//
//	reg := actio.NewRegistry()
//	if err := reg.AddModules(UsersModule, BillingModule); err != nil {
//	    log.Fatal(err)
//	}
//	inj, err := actio.NewInjector(reg, nil)
type Registry struct {
	mu sync.RWMutex

	// descriptors stores all services by class name
	descriptors map[string]*ServiceDescriptor

	// metaNames maps short metadata names to class names
	metaNames map[string]string

	// order keeps registration order for stable listings
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*ServiceDescriptor),
		metaNames:   make(map[string]string),
	}
}

// Register stores a descriptor.
func (r *Registry) Register(desc *ServiceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.descriptors[desc.Name]; ok {
		if existing == desc {
			return nil
		}
		return RegistrationError{Class: desc.Name, Operation: "register", Cause: ErrAlreadyDefined}
	}

	if desc.MetaName != "" {
		if owner, ok := r.metaNames[desc.MetaName]; ok && owner != desc.Name {
			return RegistrationError{Class: desc.Name, Operation: "register", Cause: ErrAlreadyDefined}
		}
		r.metaNames[desc.MetaName] = desc.Name
	}

	r.descriptors[desc.Name] = desc
	r.order = append(r.order, desc.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(descs ...*ServiceDescriptor) {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// AddModules applies one or more modules to the registry.
func (r *Registry) AddModules(modules ...ModuleOption) error {
	for _, module := range modules {
		if module == nil {
			continue
		}

		if err := module(r); err != nil {
			return err
		}
	}

	return nil
}

// Lookup returns the descriptor registered under className.
func (r *Registry) Lookup(className string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[className]
	return d, ok
}

// ByMetaName returns the descriptor whose short metadata name is metaName.
func (r *Registry) ByMetaName(metaName string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	className, ok := r.metaNames[metaName]
	if !ok {
		return nil, false
	}
	return r.descriptors[className], true
}

// ParamTypes returns the ordered constructor dependencies of className.
func (r *Registry) ParamTypes(className string) ([]ParamType, error) {
	d, ok := r.Lookup(className)
	if !ok {
		return nil, ResolutionError{Name: className, Available: r.Names()}
	}
	out := make([]ParamType, len(d.Params))
	copy(out, d.Params)
	return out, nil
}

// IsUnexposed reports whether method of className is hidden from the wire.
func (r *Registry) IsUnexposed(className, method string) bool {
	d, ok := r.Lookup(className)
	return ok && d.IsUnexposed(method)
}

// IsRaw reports whether method of className is a raw HTTP method.
func (r *Registry) IsRaw(className, method string) bool {
	d, ok := r.Lookup(className)
	return ok && d.IsRaw(method)
}

// Contains checks if a class is registered.
func (r *Registry) Contains(className string) bool {
	_, ok := r.Lookup(className)
	return ok
}

// Names returns the sorted class names of all registered services.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of all registered descriptors in registration order.
func (r *Registry) All() []*ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Count returns the number of registered services.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.descriptors)
}

// lookupProvider adapts Lookup to graph.LookupFunc.
func (r *Registry) lookupProvider(name string) (graph.Provider, bool) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	return d, true
}
