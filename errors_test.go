package actio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/crufters/actio/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	sentinelErrors := []struct {
		err     error
		message string
	}{
		{ErrServiceNotFound, "service not found"},
		{ErrEndpointNotFound, "endpoint not found"},
		{ErrClassNameEmpty, "no class name provided"},
		{ErrDescriptorNil, "descriptor cannot be nil"},
		{ErrConstructorNil, "constructor cannot be nil"},
		{ErrInjectorClosed, "injector has been closed"},
		{ErrMalformedPath, "expected format for endpoints example.com/$serviceName/$endpointName"},
	}

	for _, tc := range sentinelErrors {
		t.Run(tc.message, func(t *testing.T) {
			assert.Equal(t, tc.message, tc.err.Error())
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"service error", Error("nope", http.StatusPaymentRequired), http.StatusPaymentRequired},
		{"service error without status", &ServiceError{Message: "x"}, http.StatusInternalServerError},
		{"wrapped service error", fmt.Errorf("outer: %w", Error("nope", http.StatusConflict)), http.StatusConflict},
		{"malformed path", ErrMalformedPath, http.StatusBadRequest},
		{"unknown service", ResolutionError{Name: "x"}, http.StatusNotFound},
		{"unknown endpoint", ErrEndpointNotFound, http.StatusNotFound},
		{"payload", PayloadError{Service: "a", Endpoint: "b", Cause: errInvalidJSON}, http.StatusUnprocessableEntity},
		{"raw over proxy", ErrRawNotProxied, http.StatusNotImplemented},
		{"timeout", TimeoutError{Class: "A", Namespace: "x", Timeout: time.Second}, http.StatusServiceUnavailable},
		{"transport", &TransportError{URL: "http://x/a/b", Cause: errors.New("refused")}, http.StatusBadGateway},
		{"teapot", fmt.Errorf("%w", Error("teapot", http.StatusTeapot)), http.StatusTeapot},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
		{"panic", PanicError{Class: "A", Method: "m", Panic: "x"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestErrorBody(t *testing.T) {
	decode := func(t *testing.T, body []byte) string {
		t.Helper()
		var envelope map[string]string
		require.NoError(t, json.Unmarshal(body, &envelope))
		return envelope["error"]
	}

	t.Run("classified errors carry their message", func(t *testing.T) {
		assert.Equal(t, "insufficient balance", decode(t, ErrorBody(Error("insufficient balance", 402))))
		assert.Equal(t, ErrEndpointNotFound.Error(), decode(t, ErrorBody(ErrEndpointNotFound)))
	})

	t.Run("unclassified errors are serialized", func(t *testing.T) {
		err := fmt.Errorf("constructing AService: %w", errors.New("db down"))
		msg := decode(t, ErrorBody(err))

		var serialized struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Chain   []struct {
				Message string `json:"message"`
			} `json:"chain"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &serialized))
		assert.Equal(t, "constructing AService: db down", serialized.Message)
		require.Len(t, serialized.Chain, 1)
		assert.Equal(t, "db down", serialized.Chain[0].Message)
	})

	t.Run("panics include the stack", func(t *testing.T) {
		msg := decode(t, ErrorBody(PanicError{Class: "A", Panic: "x", Stack: []byte("goroutine 1")}))
		assert.Contains(t, msg, "goroutine 1")
	})
}

func TestTypedErrors(t *testing.T) {
	t.Run("resolution", func(t *testing.T) {
		err := ResolutionError{Name: "Nope", Namespace: "x", Available: []string{"AService", "BService"}}
		assert.Equal(t, "injector cannot find Nope (namespace x), available services: AService, BService", err.Error())
		assert.True(t, IsNotFound(err))

		cause := errors.New("cause")
		assert.ErrorIs(t, ResolutionError{Name: "x", Cause: cause}, cause)
	})

	t.Run("wait", func(t *testing.T) {
		cause := errors.New("cause")
		err := WaitError{Class: "A", Namespace: "x", Cause: cause}
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "error waiting for A x")
		assert.False(t, IsTimeout(err))
	})

	t.Run("transport", func(t *testing.T) {
		assert.Contains(t, (&TransportError{URL: "u", Status: 500, Body: "oops"}).Error(), "oops")
		assert.Contains(t, (&TransportError{URL: "u", Status: 500}).Error(), "status 500")
	})

	t.Run("panic", func(t *testing.T) {
		assert.Equal(t, "constructor of A panicked: x", PanicError{Class: "A", Panic: "x"}.Error())
		assert.Equal(t, "A.m panicked: x", PanicError{Class: "A", Method: "m", Panic: "x"}.Error())
	})

	t.Run("circular dependency", func(t *testing.T) {
		err := &CircularDependencyError{Node: "A", Path: []graph.NodeKey{"A", "B"}}
		assert.Contains(t, err.Error(), "circular dependency detected")
		assert.Contains(t, err.Error(), "B")
	})
}
