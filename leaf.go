package actio

import (
	"context"
	"fmt"
	"sync"
)

// LeafHandler supplies values for a non-service dependency type, such as a
// shared database connection.
//
// Handle is called with the descriptor of the service being constructed and
// the namespace it is constructed in. It must be safe for concurrent calls and
// must not build more than one underlying resource per (type, namespace) key.
// The value it returns is not the handler itself.
//
// Handlers that also implement io.Closer are closed by Injector.Close.
//
// Example:
//
//	type clockHandler struct{}
//
//	func (clockHandler) TypeName() string { return "Clock" }
//
//	func (clockHandler) Handle(ctx context.Context, target *actio.ServiceDescriptor, namespace string) (any, error) {
//	    return time.Now, nil
//	}
type LeafHandler interface {
	// TypeName is the parameter type name this handler supplies
	TypeName() string

	// Handle produces the value for target in namespace
	Handle(ctx context.Context, target *ServiceDescriptor, namespace string) (any, error)
}

// LeafFunc adapts a function into a LeafHandler.
func LeafFunc(typeName string, fn func(ctx context.Context, target *ServiceDescriptor, namespace string) (any, error)) LeafHandler {
	return leafFunc{typeName: typeName, fn: fn}
}

type leafFunc struct {
	typeName string
	fn       func(ctx context.Context, target *ServiceDescriptor, namespace string) (any, error)
}

func (l leafFunc) TypeName() string { return l.typeName }

func (l leafFunc) Handle(ctx context.Context, target *ServiceDescriptor, namespace string) (any, error) {
	return l.fn(ctx, target, namespace)
}

// handlerSet is a thread-safe table of leaf handlers keyed by type name.
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[string]LeafHandler
	order    []string
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[string]LeafHandler)}
}

func (s *handlerSet) add(h LeafHandler) error {
	if h == nil || h.TypeName() == "" {
		return RegistrationError{Class: fmt.Sprintf("%T", h), Operation: "handler", Cause: ErrHandlerTypeName}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[h.TypeName()]; !ok {
		s.order = append(s.order, h.TypeName())
	}
	s.handlers[h.TypeName()] = h
	return nil
}

func (s *handlerSet) get(typeName string) (LeafHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handlers[typeName]
	return h, ok
}

func (s *handlerSet) has(typeName string) bool {
	_, ok := s.get(typeName)
	return ok
}

// all returns handlers in registration order.
func (s *handlerSet) all() []LeafHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LeafHandler, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.handlers[name])
	}
	return out
}
