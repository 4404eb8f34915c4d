package actio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/crufters/actio/internal/graph"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that should be wrapped in typed errors when returned.

var (
	// Resolution errors.
	ErrServiceNotFound  = errors.New("service not found")
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrClassNameEmpty   = errors.New("no class name provided")

	// Registration errors.
	ErrDescriptorNil   = errors.New("descriptor cannot be nil")
	ErrConstructorNil  = errors.New("constructor cannot be nil")
	ErrAlreadyDefined  = errors.New("a different service is already registered under this name")
	ErrHandlerTypeName = errors.New("leaf handler type name cannot be empty")

	// Lifecycle errors.
	ErrInjectorClosed = errors.New("injector has been closed")

	// Dispatch errors.
	ErrMalformedPath = errors.New("expected format for endpoints example.com/$serviceName/$endpointName")
	ErrRawNotProxied = errors.New("raw endpoints cannot be forwarded to a remote node")
)

var (
	_ error = (*ServiceError)(nil)
	_ error = ResolutionError{}
	_ error = DependencyError{}
	_ error = RegistrationError{}
	_ error = ModuleError{}
	_ error = PayloadError{}
	_ error = TimeoutError{}
	_ error = WaitError{}
	_ error = (*TransportError)(nil)
	_ error = PanicError{}
	_ error = CircularDependencyError{}
)

// ========================================
// Typed Errors for Rich Context
// ========================================

// ServiceError is an application error raised by a service with an explicit
// HTTP status. It crosses remote hops unchanged: a proxy re-raises the remote
// status and message as a new ServiceError.
type ServiceError struct {
	Message string
	Status  int
}

// Error creates a ServiceError. A zero status is reported as 500.
//
// Example:
//
//	if balance < amount {
//	    return nil, actio.Error("insufficient balance", http.StatusPaymentRequired)
//	}
func Error(message string, status int) *ServiceError {
	return &ServiceError{Message: message, Status: status}
}

func (e *ServiceError) Error() string {
	return e.Message
}

// HTTPStatus returns the status to report on the wire.
func (e *ServiceError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Type aliases for graph package types
type CircularDependencyError = graph.CircularDependencyError

// ResolutionError indicates that a class or service name could not be found.
type ResolutionError struct {
	Name      string
	Namespace string
	Available []string
	Cause     error
}

func (e ResolutionError) Error() string {
	var b strings.Builder
	if e.Namespace != "" {
		b.WriteString(fmt.Sprintf("injector cannot find %s (namespace %s)", e.Name, e.Namespace))
	} else {
		b.WriteString(fmt.Sprintf("service with name %s not found", e.Name))
	}
	if len(e.Available) > 0 {
		b.WriteString(", available services: ")
		b.WriteString(strings.Join(e.Available, ", "))
	}
	return b.String()
}

func (e ResolutionError) Unwrap() error {
	if e.Cause == nil {
		return ErrServiceNotFound
	}
	return e.Cause
}

// DependencyError is a fatal configuration error in a service's declared
// constructor parameters. It names the offending class.
type DependencyError struct {
	Class string
	Cause error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("invalid dependencies of %s: %v", e.Class, e.Cause)
}

func (e DependencyError) Unwrap() error {
	return e.Cause
}

// RegistrationError wraps errors during service registration.
type RegistrationError struct {
	Class     string
	Operation string // "register", "define", "handler"
	Cause     error
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Class, e.Cause)
}

func (e RegistrationError) Unwrap() error {
	return e.Cause
}

// ModuleError wraps errors from module registration.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}

// PayloadError indicates a request body that is not valid JSON or does not
// fit the endpoint's parameters.
type PayloadError struct {
	Service  string
	Endpoint string
	Cause    error
}

func (e PayloadError) Error() string {
	return fmt.Sprintf("invalid payload for %s/%s: %v", e.Service, e.Endpoint, e.Cause)
}

func (e PayloadError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates that waiting on an in-progress construction timed out.
// The in-progress marker has been cleared so a later call may retry.
type TimeoutError struct {
	Class     string
	Namespace string
	Timeout   time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("error waiting for %s %s: timed out after %v", e.Class, e.Namespace, e.Timeout)
}

// WaitError indicates that the in-flight construction a call was waiting on failed.
type WaitError struct {
	Class     string
	Namespace string
	Cause     error
}

func (e WaitError) Error() string {
	return fmt.Sprintf("error waiting for %s %s: %v", e.Class, e.Namespace, e.Cause)
}

func (e WaitError) Unwrap() error {
	return e.Cause
}

// TransportError is a network-level failure reaching a remote-backed service:
// connection failures and non-2xx responses without a structured error body.
type TransportError struct {
	URL    string
	Status int // 0 when no response was received
	Body   string
	Cause  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("remote call to %s failed: %v", e.URL, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("remote call to %s failed with status %d: %s", e.URL, e.Status, e.Body)
	default:
		return fmt.Sprintf("remote call to %s failed with status %d", e.URL, e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// PanicError indicates a service method or constructor panicked.
// It captures the panic value and stack trace for debugging.
type PanicError struct {
	Class  string
	Method string
	Panic  any
	Stack  []byte
}

func (e PanicError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s.%s panicked: %v", e.Class, e.Method, e.Panic)
	}
	return fmt.Sprintf("constructor of %s panicked: %v", e.Class, e.Panic)
}

// IsNotFound checks if an error indicates an unknown service or endpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound) || errors.Is(err, ErrEndpointNotFound)
}

// IsTimeout checks if an error is a wait timeout.
func IsTimeout(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

// IsTransport checks if an error is a transport-level remote failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusOf maps an error to the HTTP status reported on the wire.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}

	var pe PayloadError
	switch {
	case errors.Is(err, ErrMalformedPath):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRawNotProxied):
		return http.StatusNotImplemented
	case IsTimeout(err):
		return http.StatusServiceUnavailable
	case IsTransport(err):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// ErrorBody renders the wire error envelope {"error": ...} for err.
// Classified errors carry their message; unclassified ones carry a serialized
// representation meant for debugging, not for machine parsing.
func ErrorBody(err error) []byte {
	var msg string
	if classified(err) {
		msg = err.Error()
	} else {
		msg = serialize(err)
	}

	b, mErr := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if mErr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return b
}

func classified(err error) bool {
	var (
		se *ServiceError
		pe PayloadError
	)
	return errors.As(err, &se) ||
		errors.As(err, &pe) ||
		errors.Is(err, ErrMalformedPath) ||
		errors.Is(err, ErrRawNotProxied) ||
		IsNotFound(err) ||
		IsTimeout(err) ||
		IsTransport(err)
}

// serialize produces a JSON representation of an unclassified error, including
// its wrap chain and, for panics, the stack.
func serialize(err error) string {
	type frame struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}

	out := struct {
		Type    string  `json:"type"`
		Message string  `json:"message"`
		Chain   []frame `json:"chain,omitempty"`
		Stack   string  `json:"stack,omitempty"`
	}{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}

	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		out.Chain = append(out.Chain, frame{Type: fmt.Sprintf("%T", cause), Message: cause.Error()})
	}

	var pe PanicError
	if errors.As(err, &pe) {
		out.Stack = string(pe.Stack)
	}

	b, mErr := json.Marshal(out)
	if mErr != nil {
		return err.Error()
	}
	return string(b)
}
