package actio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/crufters/actio/metrics"
)

// Request is one inbound call.
type Request struct {
	// Service is the service identifier from the path: a metadata name, a
	// class name or a class name without its "Service" suffix
	Service string

	// Endpoint is the method's wire name
	Endpoint string

	// Namespace selects the instance; empty means DefaultNamespace
	Namespace string

	// Body is the raw JSON payload
	Body []byte

	// Writer and HTTP are handed to raw endpoints
	Writer http.ResponseWriter
	HTTP   *http.Request
}

// Result is the outcome of a successful dispatch.
type Result struct {
	// Status is the HTTP status to send
	Status int

	// Body is the JSON-encoded return value
	Body []byte

	// Written is set when a raw endpoint already wrote the response
	Written bool
}

// Dispatcher maps (service, endpoint, payload) to a method call on a resolved
// instance, or forwards it when the instance is remote-backed.
type Dispatcher struct {
	inj     *Injector
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher over inj, sharing its logger and metrics.
func NewDispatcher(inj *Injector) *Dispatcher {
	return &Dispatcher{
		inj:     inj,
		logger:  inj.Logger(),
		metrics: inj.Metrics(),
	}
}

// Injector returns the dispatcher's injector.
func (d *Dispatcher) Injector() *Injector { return d.inj }

// Lookup finds the class for a service identifier: by metadata name, then by
// capitalized name plus "Service", then by capitalized name.
func (d *Dispatcher) Lookup(service string) (*ServiceDescriptor, error) {
	if desc, ok := d.inj.ClassByMetaName(service); ok {
		return desc, nil
	}
	if desc, ok := d.inj.ClassByName(capitalize(service) + "Service"); ok {
		return desc, nil
	}
	if desc, ok := d.inj.ClassByName(capitalize(service)); ok {
		return desc, nil
	}
	return nil, ResolutionError{Name: service, Available: d.inj.AvailableClassNames()}
}

// Dispatch performs one call. Errors are typed; use StatusOf and ErrorBody to
// turn them into a wire response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := StatusOf(err)
		if res != nil {
			status = res.Status
		}
		d.metrics.ObserveDispatch(req.Service, req.Endpoint, status, time.Since(start))
	}()

	desc, err := d.Lookup(req.Service)
	if err != nil {
		return nil, err
	}

	method, ok := desc.Method(req.Endpoint)
	if !ok || method.Unexposed {
		return nil, ErrEndpointNotFound
	}

	instance, proxy, err := d.inj.resolve(ctx, desc.Name, req.Namespace)
	if err != nil {
		return nil, err
	}

	if proxy != nil {
		if method.Raw {
			return nil, ErrRawNotProxied
		}
		data, err := proxy.Forward(ctx, method.Name, req.Body)
		if err != nil {
			return nil, err
		}
		return &Result{Status: http.StatusOK, Body: data}, nil
	}

	if method.Raw {
		if req.Writer == nil || req.HTTP == nil {
			return nil, fmt.Errorf("%s/%s is a raw endpoint and needs an HTTP request", req.Service, req.Endpoint)
		}
		if err := d.serveRaw(desc, method, instance, req); err != nil {
			return nil, err
		}
		return &Result{Status: http.StatusOK, Written: true}, nil
	}

	out, err := d.invoke(ctx, desc, method, instance, req.Body)
	if err != nil {
		var pc payloadCause
		if errors.Is(err, errInvalidJSON) || errors.As(err, &pc) {
			return nil, PayloadError{Service: req.Service, Endpoint: req.Endpoint, Cause: err}
		}
		return nil, err
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding result of %s/%s: %w", desc.Name, method.Name, err)
	}
	return &Result{Status: http.StatusOK, Body: body}, nil
}

func (d *Dispatcher) invoke(ctx context.Context, desc *ServiceDescriptor, method *Method, instance any, body []byte) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Class: desc.Name, Method: method.Name, Panic: r, Stack: debug.Stack()}
			d.logger.Error("endpoint panicked", "class", desc.Name, "endpoint", method.Name, "panic", r)
		}
	}()
	return method.Invoke(ctx, instance, body)
}

func (d *Dispatcher) serveRaw(desc *ServiceDescriptor, method *Method, instance any, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Class: desc.Name, Method: method.Name, Panic: r, Stack: debug.Stack()}
			d.logger.Error("endpoint panicked", "class", desc.Name, "endpoint", method.Name, "panic", r)
		}
	}()
	return method.ServeHTTP(instance, req.Writer, req.HTTP)
}
