package actio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Method is one entry of a service's wire-name method table.
type Method struct {
	// Name is the endpoint name used on the wire
	Name string

	// Arity is the number of declared payload parameters
	Arity int

	// Raw methods receive the transport request and response directly
	Raw bool

	// Unexposed methods are callable in-process but invisible to the dispatcher
	Unexposed bool

	invoke func(ctx context.Context, instance any, args []json.RawMessage) (any, error)
	raw    func(instance any, w http.ResponseWriter, r *http.Request) error
}

// EndpointOption configures a Method.
type EndpointOption interface {
	applyEndpointOption(*Method)
}

type endpointOptionFunc func(*Method)

func (f endpointOptionFunc) applyEndpointOption(m *Method) { f(m) }

// Unexposed hides the endpoint from the dispatcher. Calling it over the wire
// is indistinguishable from calling an endpoint that does not exist.
func Unexposed() EndpointOption {
	return endpointOptionFunc(func(m *Method) {
		m.Unexposed = true
	})
}

func newMethod(name string, arity int, opts []EndpointOption) *Method {
	m := &Method{Name: name, Arity: arity}
	for _, opt := range opts {
		if opt != nil {
			opt.applyEndpointOption(m)
		}
	}
	return m
}

// Handler0 registers an endpoint taking no payload.
func Handler0[S, R any](name string, fn func(S, context.Context) (R, error), opts ...EndpointOption) *Method {
	m := newMethod(name, 0, opts)
	m.invoke = func(ctx context.Context, instance any, _ []json.RawMessage) (any, error) {
		svc, err := receiver[S](instance, name)
		if err != nil {
			return nil, err
		}
		return fn(svc, ctx)
	}
	return m
}

// Handler registers an endpoint taking a single payload value.
//
// Example:
//
//	actio.Handler("userRead", (*UserService).UserRead)
func Handler[S, P, R any](name string, fn func(S, context.Context, P) (R, error), opts ...EndpointOption) *Method {
	m := newMethod(name, 1, opts)
	m.invoke = func(ctx context.Context, instance any, args []json.RawMessage) (any, error) {
		svc, err := receiver[S](instance, name)
		if err != nil {
			return nil, err
		}
		p, err := decodeArg[P](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(svc, ctx, p)
	}
	return m
}

// Handler2 registers an endpoint taking two positional payload values, sent
// on the wire as a two-element JSON array.
func Handler2[S, P1, P2, R any](name string, fn func(S, context.Context, P1, P2) (R, error), opts ...EndpointOption) *Method {
	m := newMethod(name, 2, opts)
	m.invoke = func(ctx context.Context, instance any, args []json.RawMessage) (any, error) {
		svc, err := receiver[S](instance, name)
		if err != nil {
			return nil, err
		}
		p1, err := decodeArg[P1](args, 0)
		if err != nil {
			return nil, err
		}
		p2, err := decodeArg[P2](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(svc, ctx, p1, p2)
	}
	return m
}

// Handler3 registers an endpoint taking three positional payload values.
func Handler3[S, P1, P2, P3, R any](name string, fn func(S, context.Context, P1, P2, P3) (R, error), opts ...EndpointOption) *Method {
	m := newMethod(name, 3, opts)
	m.invoke = func(ctx context.Context, instance any, args []json.RawMessage) (any, error) {
		svc, err := receiver[S](instance, name)
		if err != nil {
			return nil, err
		}
		p1, err := decodeArg[P1](args, 0)
		if err != nil {
			return nil, err
		}
		p2, err := decodeArg[P2](args, 1)
		if err != nil {
			return nil, err
		}
		p3, err := decodeArg[P3](args, 2)
		if err != nil {
			return nil, err
		}
		return fn(svc, ctx, p1, p2, p3)
	}
	return m
}

// Raw registers an endpoint that owns the HTTP exchange. The payload is not
// decoded and the method writes the response itself.
func Raw[S any](name string, fn func(S, http.ResponseWriter, *http.Request) error, opts ...EndpointOption) *Method {
	m := newMethod(name, 0, opts)
	m.Raw = true
	m.raw = func(instance any, w http.ResponseWriter, r *http.Request) error {
		svc, err := receiver[S](instance, name)
		if err != nil {
			return err
		}
		return fn(svc, w, r)
	}
	return m
}

// Invoke calls the method on instance with an already-encoded payload.
// body follows the wire convention: empty, a single JSON value, or a JSON
// array spread positionally when the method takes more than one parameter.
func (m *Method) Invoke(ctx context.Context, instance any, body []byte) (any, error) {
	if m.Raw {
		return nil, fmt.Errorf("%s is a raw endpoint", m.Name)
	}
	args, err := splitPayload(body, m.Arity)
	if err != nil {
		return nil, err
	}
	return m.invoke(ctx, instance, args)
}

// ServeHTTP calls a raw method on instance.
func (m *Method) ServeHTTP(instance any, w http.ResponseWriter, r *http.Request) error {
	if !m.Raw {
		return fmt.Errorf("%s is not a raw endpoint", m.Name)
	}
	return m.raw(instance, w, r)
}

var emptyObject = json.RawMessage(`{}`)

// splitPayload turns a request body into positional arguments. A missing body
// is an empty object. An array is spread only when arity > 1.
func splitPayload(body []byte, arity int) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []json.RawMessage{emptyObject}, nil
	}
	if !json.Valid(body) {
		return nil, errInvalidJSON
	}
	if arity > 1 && body[0] == '[' {
		var args []json.RawMessage
		if err := json.Unmarshal(body, &args); err != nil {
			return nil, err
		}
		return args, nil
	}
	return []json.RawMessage{body}, nil
}

var errInvalidJSON = fmt.Errorf("body is not valid JSON")

// decodeArg decodes the i-th argument into P. Missing arguments are zero
// values; the implicit empty object decodes leniently so that non-object
// parameters also receive their zero value.
func decodeArg[P any](args []json.RawMessage, i int) (P, error) {
	var p P
	if i >= len(args) || args[i] == nil {
		return p, nil
	}
	if err := json.Unmarshal(args[i], &p); err != nil {
		if bytes.Equal(args[i], emptyObject) {
			var zero P
			return zero, nil
		}
		return p, payloadCause{index: i, err: err}
	}
	return p, nil
}

// payloadCause marks argument decoding failures so the dispatcher can report
// them as payload errors rather than service failures.
type payloadCause struct {
	index int
	err   error
}

func (e payloadCause) Error() string {
	return fmt.Sprintf("argument %d: %v", e.index, e.err)
}

func (e payloadCause) Unwrap() error {
	return e.err
}

func receiver[S any](instance any, method string) (S, error) {
	svc, ok := instance.(S)
	if !ok {
		var zero S
		return zero, fmt.Errorf("%s: instance is %T, not %T", method, instance, zero)
	}
	return svc, nil
}
