// Package actio is a runtime for services that can run in one process or be
// split across many nodes without changing their code.
//
// # Overview
//
// Services are described by a ServiceDescriptor: a class name, the ordered
// list of constructor parameters and a table of endpoints. Descriptors are
// collected in a Registry, usually through modules. An Injector builds
// instances from the registry on demand, one per (class, namespace) pair:
//   - Dependencies are built first, in the same namespace unless a class has
//     a fixed namespace
//   - Concurrent requests for the same instance share a single construction
//   - Leaf parameters (database handles, config) come from LeafHandlers
//   - Classes with an address are never built locally; a Proxy stands in
//   - Cycles and missing handlers are reported by NewInjector
//
// # Basic Usage
//
//	var users = actio.Define("UsersService",
//	    func(args actio.Args) (any, error) {
//	        return &Users{db: actio.MustArg[*sql.DB](args, 0)}, nil
//	    },
//	    actio.Params(actio.Leaf("DB")),
//	    actio.Endpoints(actio.Handler("lookup", (*Users).Lookup)),
//	)
//
//	reg := actio.NewRegistry()
//	reg.MustRegister(users)
//
//	inj, err := actio.NewInjector(reg, nil, actio.WithHandlers(dbHandler))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inj.Close()
//
//	v, err := inj.Resolve(ctx, "UsersService", "tenant-a")
//
// # Namespaces
//
// A namespace is a tenant or environment label. Each namespace gets its own
// instance of every service, and leaf handlers see the namespace so they can
// hand out separate connections or key prefixes. The default namespace is
// "local".
//
// # Endpoints
//
// Endpoints are declared with Handler0 to Handler3 for JSON methods taking
// zero to three parameters, and Raw for methods that handle the HTTP
// request themselves. A single-parameter endpoint receives the whole body;
// with more parameters the body is a JSON array of positional arguments.
// Unexposed endpoints cannot be called from outside.
//
// A Dispatcher routes a (service, endpoint, namespace, body) call to the
// right instance or proxy. The server package serves a Dispatcher over HTTP
// at /{service}/{endpoint}.
//
// # Distribution
//
// WithAddresses (or WithEnvAddresses) maps class names to the base URL of
// the node that serves them. Resolving such a class returns a Proxy, or the
// value built by the descriptor's RemoteClient option, and none of its
// dependencies are constructed. Calls through a proxy are plain HTTP POSTs
// to the remote node with the namespace in a header, and service errors keep
// their status and message across the hop.
//
// # Error Handling
//
// Errors are typed so callers can inspect them:
//
//	_, err := inj.Resolve(ctx, "UsersService", "local")
//	switch {
//	case actio.IsNotFound(err):
//	case actio.IsTimeout(err):
//	}
//
// StatusOf maps any error to the HTTP status it is reported with, and
// Error creates a ServiceError carrying a message and status of the
// service's choice.
//
// # Lifecycle
//
// Services implementing Initializer get OnInit after construction. Close
// closes every instance implementing io.Closer in reverse construction
// order, then the leaf handlers.
package actio
