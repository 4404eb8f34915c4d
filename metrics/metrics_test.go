package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResolve("AService", Constructed, time.Millisecond)
		m.InstanceReplaced()
		m.ObserveInitFailure("AService")
		m.ObserveDispatch("a", "b", 200, time.Millisecond)
		m.ObserveRemoteCall("AService", 0, time.Millisecond)
	})
	assert.Equal(t, prometheus.DefaultGatherer, m.Gatherer())
}

func TestMetrics_Resolve(t *testing.T) {
	m := New()

	m.ObserveResolve("AService", Constructed, time.Millisecond)
	m.ObserveResolve("AService", Cached, 0)
	m.ObserveResolve("AService", Cached, 0)
	m.ObserveResolve("BService", Proxied, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolves.WithLabelValues("AService", Constructed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolves.WithLabelValues("AService", Cached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instances.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instances.WithLabelValues("remote")))

	m.InstanceReplaced()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.instances.WithLabelValues("local")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.instances.WithLabelValues("remote")))

	m.ObserveInitFailure("AService")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initFailures.WithLabelValues("AService")))
}

func TestMetrics_Requests(t *testing.T) {
	m := New()

	m.ObserveDispatch("greeter", "hello", 200, time.Millisecond)
	m.ObserveDispatch("greeter", "hello", 404, time.Millisecond)
	m.ObserveRemoteCall("GreeterService", 502, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("greeter", "hello", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("GreeterService", "502")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatches))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDispatch("greeter", "hello", 200, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `actio_dispatcher_requests_total{code="200",endpoint="hello",service="greeter"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewWithRegisterer(reg)
	require.NoError(t, err)
	m.ObserveInitFailure("AService")

	n, err := testutil.GatherAndCount(reg, "actio_injector_init_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = NewWithRegisterer(reg)
	assert.Error(t, err, "registering twice conflicts")
}
