package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/crufters/actio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertResolvable resolves class in namespace and checks its type.
func AssertResolvable[T any](t *testing.T, inj *actio.Injector, class, namespace string) T {
	t.Helper()
	v, err := actio.Resolve[T](context.Background(), inj, class, namespace)
	require.NoError(t, err, "failed to resolve %s in %q", class, namespace)
	return v
}

// AssertNotFound checks that err is a not-found error.
func AssertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, actio.IsNotFound(err), "expected not found error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, actio.StatusOf(err))
}

// AssertStatus checks the wire status of err.
func AssertStatus(t *testing.T, want int, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, actio.StatusOf(err), "unexpected status for %v", err)
}

// AssertErrorType checks that err has type T somewhere in its chain.
func AssertErrorType[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	require.True(t, errors.As(err, &target), "expected %T in chain, got: %v", target, err)
	return target
}

// Post sends a JSON body to {url}/{service}/{endpoint} in namespace.
func Post(t *testing.T, url, service, endpoint, namespace, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/"+service+"/"+endpoint, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if namespace != "" {
		req.Header.Set(actio.NamespaceHeader, namespace)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// ErrorMessage extracts the error field of an error envelope.
func ErrorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope), "body: %s", body)
	return envelope.Error
}
