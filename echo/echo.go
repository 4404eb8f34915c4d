// Package echo serves an actio Dispatcher with the Echo web framework.
//
// Calls are routed from /:service/:endpoint, so the dispatcher can share an
// Echo instance with ordinary routes.
//
// Example usage:
//
//	d := actio.NewDispatcher(inj)
//
//	e := echo.New()
//	e.GET("/health", health)
//	actioecho.Register(e.Group("/api"), d)
package echo

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/crufters/actio"
	"github.com/labstack/echo/v4"
)

// Config holds the handler configuration.
type Config struct {
	// ErrorHandler writes dispatch failures.
	// If nil, the error's wire status and an {"error": ...} body are written.
	ErrorHandler func(echo.Context, error) error

	// Middlewares run before dispatch, in the order they were added. They can
	// inspect or rewrite the call, eg. to force a namespace. A middleware
	// error aborts the call.
	Middlewares []func(echo.Context, *actio.Request) error

	// MaxBodyBytes limits request bodies. Zero means no limit.
	MaxBodyBytes int64

	// Logger receives dispatch failures. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Option configures the handler.
type Option func(*Config)

// WithErrorHandler sets the error handler for dispatch failures.
func WithErrorHandler(h func(echo.Context, error) error) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithMiddleware adds a function that runs before dispatch.
func WithMiddleware(mw func(echo.Context, *actio.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBodyBytes = n
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
func WriteError(c echo.Context, err error) error {
	return c.Blob(actio.StatusOf(err), echo.MIMEApplicationJSON, actio.ErrorBody(err))
}

// Router is the part of *echo.Echo and *echo.Group that Register needs.
type Router interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// Register mounts Handler on r at /:service/:endpoint for GET and POST.
func Register(r Router, d *actio.Dispatcher, opts ...Option) {
	h := Handler(d, opts...)
	r.GET("/:service/:endpoint", h)
	r.POST("/:service/:endpoint", h)
}

// Handler returns an Echo handler that dispatches the :service and :endpoint
// path parameters.
func Handler(d *actio.Dispatcher, opts ...Option) echo.HandlerFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fail := func(c echo.Context, err error) error {
		if actio.StatusOf(err) >= http.StatusInternalServerError {
			cfg.Logger.Error("dispatch failed", "path", c.Request().URL.Path, "error", err)
		}
		return cfg.ErrorHandler(c, err)
	}

	return func(c echo.Context) error {
		service, endpoint := c.Param("service"), c.Param("endpoint")
		if service == "" || endpoint == "" {
			return fail(c, actio.ErrMalformedPath)
		}

		body, err := readBody(c, cfg.MaxBodyBytes)
		if err != nil {
			return fail(c, err)
		}

		req := &actio.Request{
			Service:   service,
			Endpoint:  endpoint,
			Namespace: namespace(c),
			Body:      body,
			Writer:    c.Response(),
			HTTP:      c.Request(),
		}
		for _, mw := range cfg.Middlewares {
			if err := mw(c, req); err != nil {
				return fail(c, err)
			}
		}

		res, err := d.Dispatch(c.Request().Context(), req)
		if err != nil {
			return fail(c, err)
		}
		if res.Written {
			return nil
		}
		return c.Blob(res.Status, echo.MIMEApplicationJSON, res.Body)
	}
}

// namespace is the "namespace" cookie, then the header, then the default.
func namespace(c echo.Context) string {
	if cookie, err := c.Cookie(actio.NamespaceHeader); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if ns := c.Request().Header.Get(actio.NamespaceHeader); ns != "" {
		return ns
	}
	return actio.DefaultNamespace
}

func readBody(c echo.Context, limit int64) ([]byte, error) {
	r := c.Request()
	if r.Body == nil {
		return nil, nil
	}
	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = http.MaxBytesReader(c.Response(), r.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, actio.Error("request body too large", http.StatusRequestEntityTooLarge)
		}
		return nil, actio.Error("failed to read request body", http.StatusBadRequest)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
