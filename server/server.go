// Package server exposes an actio Dispatcher over HTTP with the Gin web
// framework.
//
// Every service endpoint is served at /{service}/{endpoint}. The body is the
// JSON payload; the namespace comes from the "namespace" cookie or header and
// defaults to "local". Success is 200 with the bare JSON result, failure is the
// error's status with an {"error": ...} body.
//
// Example usage:
//
//	d := actio.NewDispatcher(inj)
//	engine := server.New(d,
//	    server.WithMetrics(m),
//	    server.WithCORS("https://app.example.com"),
//	)
//	if err := server.ListenAndServe(ctx, ":8080", engine); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crufters/actio"
	"github.com/crufters/actio/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
)

// RequestIDHeader carries the request id in requests and responses.
const RequestIDHeader = "X-Request-Id"

const (
	requestIDKey = "actio.request_id"
	namespaceKey = "actio.namespace"
)

// Config holds the server configuration.
type Config struct {
	// Logger receives one line per request. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics, if set, is served at GET /metrics. Dispatches are recorded
	// only if the Injector was built with the same Metrics.
	Metrics *metrics.Metrics

	// AllowedOrigins for CORS. Empty means any origin.
	AllowedOrigins []string

	// RateLimit is the per-namespace request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the per-namespace burst size.
	RateBurst int

	// MaxBodyBytes limits request bodies. Zero means no limit.
	MaxBodyBytes int64

	// ErrorHandler writes dispatch failures.
	// If nil, the status from actio.StatusOf and the body from actio.ErrorBody are used.
	ErrorHandler func(*gin.Context, error)
}

// Option configures the server.
type Option func(*Config)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics serves m's registry at GET /metrics. It does not record
// anything itself; pass the same m to actio.WithMetrics so the Injector and
// its Dispatcher report to it.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithCORS restricts cross-origin requests to origins.
func WithCORS(origins ...string) Option {
	return func(c *Config) {
		c.AllowedOrigins = append(c.AllowedOrigins, origins...)
	}
}

// WithRateLimit limits each namespace to rps requests per second with the
// given burst. Requests over the limit get 429.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = rps
		c.RateBurst = burst
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBodyBytes = n
	}
}

// WithErrorHandler sets the handler for dispatch failures.
func WithErrorHandler(h func(*gin.Context, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

func defaultConfig() *Config {
	return &Config{
		ErrorHandler: WriteError,
	}
}

// New creates a gin.Engine serving d. Every path that is not /metrics is
// treated as a service call.
func New(d *actio.Dispatcher, opts ...Option) *gin.Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = false
	engine.Use(
		gin.Recovery(),
		RequestID(),
		logRequests(cfg.Logger),
		corsMiddleware(cfg.AllowedOrigins),
	)

	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	engine.NoRoute(handle(d, cfg))
	return engine
}

// Handler returns the service-call handler alone, for mounting on an
// existing engine with NoRoute or a wildcard route.
func Handler(d *actio.Dispatcher, opts ...Option) gin.HandlerFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return handle(d, cfg)
}

func handle(d *actio.Dispatcher, cfg *Config) gin.HandlerFunc {
	limiter := newNamespaceLimiter(cfg.RateLimit, cfg.RateBurst, 0)

	return func(c *gin.Context) {
		// NoRoute handlers start out as 404
		c.Status(http.StatusOK)

		service, endpoint, err := ParsePath(c.Request.URL.Path)
		if err != nil {
			cfg.ErrorHandler(c, err)
			return
		}

		namespace := Namespace(c.Request)
		c.Set(namespaceKey, namespace)

		if !limiter.Allow(namespace, time.Now()) {
			c.Error(errRateLimited)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errRateLimited.Error()})
			return
		}

		body, err := readBody(c, cfg.MaxBodyBytes)
		if err != nil {
			cfg.ErrorHandler(c, err)
			return
		}

		res, err := d.Dispatch(c.Request.Context(), &actio.Request{
			Service:   service,
			Endpoint:  endpoint,
			Namespace: namespace,
			Body:      body,
			Writer:    c.Writer,
			HTTP:      c.Request,
		})
		if err != nil {
			cfg.ErrorHandler(c, err)
			return
		}
		if res.Written {
			return
		}
		c.Data(res.Status, "application/json", res.Body)
	}
}

var errRateLimited = errors.New("rate limit exceeded")

// WriteError writes err with its wire status and an {"error": ...} body.
func WriteError(c *gin.Context, err error) {
	c.Error(err)
	c.Abort()
	c.Data(actio.StatusOf(err), "application/json", actio.ErrorBody(err))
}

// ParsePath splits /{service}/{endpoint}. Extra segments are ignored.
func ParsePath(path string) (service, endpoint string, err error) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", actio.ErrMalformedPath
	}
	return parts[0], parts[1], nil
}

// Namespace returns the request's namespace: the "namespace" cookie, then the
// "namespace" header, then actio.DefaultNamespace.
func Namespace(r *http.Request) string {
	if cookie, err := r.Cookie(actio.NamespaceHeader); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if ns := r.Header.Get(actio.NamespaceHeader); ns != "" {
		return ns
	}
	return actio.DefaultNamespace
}

// readBody reads the request body and puts it back for raw endpoints.
func readBody(c *gin.Context, limit int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	reader := io.Reader(c.Request.Body)
	if limit > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, actio.Error("request body too large", http.StatusRequestEntityTooLarge)
		}
		return nil, actio.Error("failed to read request body", http.StatusBadRequest)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// RequestID assigns each request an id, reusing the caller's X-Request-Id
// when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func logRequests(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"namespace", c.GetString(namespaceKey),
			"request_id", c.GetString(requestIDKey),
		}
		if last := c.Errors.Last(); last != nil {
			attrs = append(attrs, "error", last.Err)
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request rejected", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", actio.NamespaceHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: len(origins) > 0,
	})

	return func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)
		if ctx.Request.Method == http.MethodOptions && ctx.GetHeader("Access-Control-Request-Method") != "" {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
