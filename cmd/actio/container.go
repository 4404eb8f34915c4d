package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/crufters/actio"
	"github.com/crufters/actio/config"
	"github.com/crufters/actio/leaf/redisleaf"
	"github.com/crufters/actio/metrics"
	"github.com/crufters/actio/server"
	"github.com/crufters/actio/services/keyvalue"
	"github.com/crufters/actio/services/system"
	"github.com/gin-gonic/gin"
	"go.uber.org/dig"
)

// buildContainer wires a node from cfg. Nothing connects or listens until
// the container's products are used.
func buildContainer(cfg config.Config) (*dig.Container, error) {
	c := dig.New()
	providers := []any{
		func() config.Config { return cfg },
		newLogger,
		newMetrics,
		newRedisHandler,
		newRegistry,
		newInjector,
		actio.NewDispatcher,
		newEngine,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func newMetrics(cfg config.Config) *metrics.Metrics {
	if !cfg.Server.Metrics {
		return nil
	}
	return metrics.New()
}

func newRedisHandler(cfg config.Config) *redisleaf.Handler {
	if !cfg.Redis.Enabled() {
		return nil
	}
	return redisleaf.New(redisleaf.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
}

// newRegistry registers the built-in services. The key-value store needs
// redis, here or on the node it is addressed to.
func newRegistry(cfg config.Config, h *redisleaf.Handler) (*actio.Registry, error) {
	reg := actio.NewRegistry()
	builders := []actio.ModuleOption{actio.Service(system.Descriptor)}
	if h != nil || cfg.Addresses[keyvalue.ClassName] != "" {
		builders = append(builders, actio.Service(keyvalue.Descriptor))
	}
	if err := reg.AddModules(actio.NewModule("builtin", builders...)); err != nil {
		return nil, err
	}
	return reg, nil
}

func newInjector(cfg config.Config, reg *actio.Registry, logger *slog.Logger, m *metrics.Metrics, h *redisleaf.Handler) (*actio.Injector, error) {
	opts := []actio.Option{
		actio.WithLogger(logger),
		actio.WithMetrics(m),
		actio.WithAddresses(cfg.Addresses),
		actio.WithCaller(actio.NewHTTPCaller(&http.Client{Timeout: cfg.RemoteTimeout})),
		actio.WithWaitPolicy(actio.WaitPolicy{
			Initial:    cfg.Wait.Initial,
			Multiplier: cfg.Wait.Multiplier,
			Timeout:    cfg.Wait.Timeout,
		}),
	}
	if cfg.Node.ID != "" {
		opts = append(opts, actio.WithNodeID(cfg.Node.ID))
	}
	if cfg.Node.Address != "" {
		opts = append(opts, actio.WithSelfAddress(cfg.Node.Address))
	}
	if cfg.EnvAddresses {
		opts = append(opts, actio.WithEnvAddresses())
	}
	if h != nil {
		opts = append(opts, actio.WithHandlers(h))
	}
	return actio.NewInjector(reg, nil, opts...)
}

func newEngine(cfg config.Config, d *actio.Dispatcher, logger *slog.Logger, m *metrics.Metrics) *gin.Engine {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if m != nil {
		opts = append(opts, server.WithMetrics(m))
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.Server.AllowedOrigins...))
	}
	if cfg.Server.RateLimit > 0 {
		opts = append(opts, server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	return server.New(d, opts...)
}
