package testutil

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/crufters/actio"
	"github.com/crufters/actio/server"
	"github.com/stretchr/testify/require"
)

// DiscardLogger drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RegistryBuilder provides a fluent interface for building test registries
// and injectors.
type RegistryBuilder struct {
	t        testing.TB
	registry *actio.Registry
	opts     []actio.Option
}

// NewRegistryBuilder creates a RegistryBuilder.
func NewRegistryBuilder(t testing.TB) *RegistryBuilder {
	return &RegistryBuilder{
		t:        t,
		registry: actio.NewRegistry(),
		opts:     []actio.Option{actio.WithLogger(DiscardLogger())},
	}
}

// With registers descriptors.
func (b *RegistryBuilder) With(descs ...*actio.ServiceDescriptor) *RegistryBuilder {
	for _, d := range descs {
		require.NoError(b.t, b.registry.Register(d))
	}
	return b
}

// WithOptions adds injector options.
func (b *RegistryBuilder) WithOptions(opts ...actio.Option) *RegistryBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Registry returns the built registry.
func (b *RegistryBuilder) Registry() *actio.Registry {
	return b.registry
}

// Injector builds an injector over every registered class. It is closed when
// the test ends.
func (b *RegistryBuilder) Injector(roots ...string) *actio.Injector {
	b.t.Helper()
	inj, err := actio.NewInjector(b.registry, roots, b.opts...)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { _ = inj.Close() })
	return inj
}

// Server builds an injector and serves it over HTTP until the test ends.
func (b *RegistryBuilder) Server(opts ...server.Option) (*httptest.Server, *actio.Injector) {
	b.t.Helper()
	inj := b.Injector()
	opts = append([]server.Option{server.WithLogger(DiscardLogger())}, opts...)
	srv := httptest.NewServer(server.New(actio.NewDispatcher(inj), opts...))
	b.t.Cleanup(srv.Close)
	return srv, inj
}
