package actio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NamespaceHeader carries the caller's namespace on the wire.
const NamespaceHeader = "namespace"

// Caller performs one JSON-over-HTTP call to a service on another node.
//
// On a 2xx response Do returns the body. A non-2xx response carrying an
// {"error": ...} body is returned as a *ServiceError with the remote status
// and message unchanged, so chained hops look like one hop to the outermost
// caller. Anything else is a *TransportError.
type Caller interface {
	Do(ctx context.Context, address, service, method, namespace string, body []byte) ([]byte, error)
}

// HTTPCaller is the default Caller, backed by an http.Client.
type HTTPCaller struct {
	Client *http.Client
}

var _ Caller = (*HTTPCaller)(nil)

// NewHTTPCaller creates an HTTPCaller. A nil client means http.DefaultClient.
func NewHTTPCaller(client *http.Client) *HTTPCaller {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCaller{Client: client}
}

// Do posts body to {address}/{service}/{method}.
func (c *HTTPCaller) Do(ctx context.Context, address, service, method, namespace string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", strings.TrimRight(address, "/"), service, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: url, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if namespace != "" {
		req.Header.Set(NamespaceHeader, namespace)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Status: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	if msg, ok := remoteErrorMessage(data); ok {
		return nil, &ServiceError{Message: msg, Status: resp.StatusCode}
	}
	return nil, &TransportError{URL: url, Status: resp.StatusCode, Body: string(data)}
}

// remoteErrorMessage extracts the error field of an error envelope. A
// non-string error value is passed on as its JSON text.
func remoteErrorMessage(data []byte) (string, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", false
	}
	raw, ok := envelope["error"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	return string(raw), true
}
