package actio

// ModuleOption represents a registration action within a module.
type ModuleOption func(*Registry) error

// NewModule creates a new module with the given name and builders.
// Modules are a way to group related service registrations together.
//
// Example:
//
//	var StorageModule = actio.NewModule("storage",
//	    actio.Service(keyvalue.Descriptor),
//	    actio.Service(FilesDescriptor),
//	)
//
//	var AppModule = actio.NewModule("app",
//	    StorageModule,
//	    actio.Service(system.Descriptor),
//	)
func NewModule(name string, builders ...ModuleOption) ModuleOption {
	return func(r *Registry) error {
		for _, builder := range builders {
			if builder == nil {
				continue
			}

			if err := builder(r); err != nil {
				return ModuleError{Module: name, Cause: err}
			}
		}

		return nil
	}
}

// Service creates a ModuleOption registering one or more descriptors.
func Service(descs ...*ServiceDescriptor) ModuleOption {
	return func(r *Registry) error {
		for _, d := range descs {
			if err := r.Register(d); err != nil {
				return err
			}
		}
		return nil
	}
}
