package actio

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/crufters/actio/metrics"
)

// Proxy stands in for a service hosted on another node. Every call becomes a
// remote call to the same class and method there.
//
// Services depending on a remote-backed class receive its Proxy, or the typed
// client built by the descriptor's RemoteClient option.
type Proxy struct {
	class     string
	address   string
	namespace string
	caller    Caller
	metrics   *metrics.Metrics
}

// NewProxy creates a proxy calling class at address in namespace.
func NewProxy(caller Caller, address, class, namespace string) *Proxy {
	if caller == nil {
		caller = NewHTTPCaller(nil)
	}
	return &Proxy{
		class:     class,
		address:   address,
		namespace: namespace,
		caller:    caller,
	}
}

// Class returns the remote class name.
func (p *Proxy) Class() string { return p.class }

// Address returns the base URL of the remote node.
func (p *Proxy) Address() string { return p.address }

// Namespace returns the namespace calls are made in.
func (p *Proxy) Namespace() string { return p.namespace }

// Forward sends an already-encoded payload to method and returns the raw
// response body.
func (p *Proxy) Forward(ctx context.Context, method string, body []byte) ([]byte, error) {
	start := time.Now()
	data, err := p.caller.Do(ctx, p.address, p.class, method, p.namespace, body)
	p.metrics.ObserveRemoteCall(p.class, remoteStatus(err), time.Since(start))
	return data, err
}

// Call invokes method with args and returns the raw JSON result.
// One argument is sent as is, several as a JSON array, none as an empty body.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	body, err := EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	data, err := p.Forward(ctx, method, body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// CallInto invokes method with args and decodes the result into out.
// A nil out discards the result.
//
// Example:
//
//	func (c *billingClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
//	    rsp := &ChargeResponse{}
//	    return rsp, c.proxy.CallInto(ctx, "charge", rsp, req)
//	}
func (p *Proxy) CallInto(ctx context.Context, method string, out any, args ...any) error {
	data, err := p.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// EncodeArgs encodes call arguments following the wire convention.
func EncodeArgs(args ...any) ([]byte, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return json.Marshal(args[0])
	default:
		return json.Marshal(args)
	}
}

func remoteStatus(err error) int {
	if err == nil {
		return 200
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
