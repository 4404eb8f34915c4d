// Package fiber serves an actio Dispatcher with the Fiber web framework.
//
// Example usage:
//
//	d := actio.NewDispatcher(inj)
//
//	app := fiber.New()
//	actiofiber.Register(app.Group("/api"), d)
//
// Fiber is not built on net/http, so raw endpoints are served through the
// Fiber net/http adaptor. Request body limits are set on the Fiber app.
package fiber

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/crufters/actio"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// Config holds the handler configuration.
type Config struct {
	// ErrorHandler writes dispatch failures.
	// If nil, the error's wire status and an {"error": ...} body are written.
	ErrorHandler func(*fiber.Ctx, error) error

	// Middlewares run before dispatch, in the order they were added.
	// A middleware error aborts the call.
	Middlewares []func(*fiber.Ctx, *actio.Request) error

	// Logger receives dispatch failures. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Option configures the handler.
type Option func(*Config)

// WithErrorHandler sets the error handler for dispatch failures.
func WithErrorHandler(h func(*fiber.Ctx, error) error) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a function that runs before dispatch.
func WithMiddleware(mw func(*fiber.Ctx, *actio.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

// WithLogger sets the logger for dispatch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func defaultConfig() *Config {
	return &Config{
		ErrorHandler: WriteError,
	}
}

// WriteError writes err with its wire status and an {"error": ...} body.
func WriteError(c *fiber.Ctx, err error) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(actio.StatusOf(err)).Send(actio.ErrorBody(err))
}

// Register mounts Handler on r at /:service/:endpoint for GET and POST.
func Register(r fiber.Router, d *actio.Dispatcher, opts ...Option) {
	h := Handler(d, opts...)
	r.Get("/:service/:endpoint", h)
	r.Post("/:service/:endpoint", h)
}

// Handler returns a Fiber handler that dispatches the :service and
// :endpoint route parameters.
func Handler(d *actio.Dispatcher, opts ...Option) fiber.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fail := func(c *fiber.Ctx, err error) error {
		if actio.StatusOf(err) >= http.StatusInternalServerError {
			cfg.Logger.Error("dispatch failed", "path", c.Path(), "error", err)
		}
		return cfg.ErrorHandler(c, err)
	}

	return func(c *fiber.Ctx) error {
		// Fiber strings alias the request buffer; the injector keeps the namespace.
		req := &actio.Request{
			Service:   strings.Clone(c.Params("service")),
			Endpoint:  strings.Clone(c.Params("endpoint")),
			Namespace: strings.Clone(namespace(c)),
			Body:      append([]byte(nil), c.Body()...),
		}
		if req.Service == "" || req.Endpoint == "" {
			return fail(c, actio.ErrMalformedPath)
		}
		for _, mw := range cfg.Middlewares {
			if err := mw(c, req); err != nil {
				return fail(c, err)
			}
		}

		if desc, err := d.Lookup(req.Service); err == nil && desc.IsRaw(req.Endpoint) {
			return serveRaw(c, d, req, cfg)
		}

		res, err := d.Dispatch(c.UserContext(), req)
		if err != nil {
			return fail(c, err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(res.Status).Send(res.Body)
	}
}

// serveRaw hands the call to the endpoint as a net/http request.
func serveRaw(c *fiber.Ctx, d *actio.Dispatcher, req *actio.Request, cfg *Config) error {
	return adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Writer, req.HTTP = w, r
		if _, err := d.Dispatch(r.Context(), req); err != nil {
			cfg.Logger.Warn("raw endpoint failed", "service", req.Service, "endpoint", req.Endpoint, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(actio.StatusOf(err))
			_, _ = w.Write(actio.ErrorBody(err))
		}
	})(c)
}

// namespace is the "namespace" cookie, then the header, then the default.
func namespace(c *fiber.Ctx) string {
	if ns := c.Cookies(actio.NamespaceHeader); ns != "" {
		return ns
	}
	if ns := c.Get(actio.NamespaceHeader); ns != "" {
		return ns
	}
	return actio.DefaultNamespace
}
