// Package metrics exposes Prometheus instrumentation for the injector, the
// dispatcher and remote calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolve outcomes.
const (
	Constructed = "constructed"
	Cached      = "cached"
	Waited      = "waited"
	Proxied     = "proxied"
	Failed      = "failed"
	TimedOut    = "timeout"
)

// Metrics groups the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	resolves         *prometheus.CounterVec
	resolveDuration  *prometheus.HistogramVec
	instances        *prometheus.GaugeVec
	initFailures     *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	remoteCalls      *prometheus.CounterVec
	remoteDuration   *prometheus.HistogramVec
}

// New creates Metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics(reg)
	reg.MustRegister(m.collectors()...)
	return m
}

// NewWithRegisterer registers the collectors on reg instead of a fresh registry.
// Handler then serves prometheus.DefaultGatherer.
func NewWithRegisterer(reg prometheus.Registerer) (*Metrics, error) {
	m := newMetrics(nil)
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		registry: reg,
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actio",
			Subsystem: "injector",
			Name:      "resolves_total",
			Help:      "Instance resolutions by class and outcome.",
		}, []string{"class", "outcome"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actio",
			Subsystem: "injector",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving instances that were not cached.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"class"}),
		instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "actio",
			Subsystem: "injector",
			Name:      "instances",
			Help:      "Ready instances, local or remote-backed.",
		}, []string{"kind"}),
		initFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actio",
			Subsystem: "injector",
			Name:      "init_failures_total",
			Help:      "Init hooks that returned an error.",
		}, []string{"class"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actio",
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Dispatched requests by service, endpoint and status code.",
		}, []string{"service", "endpoint", "code"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actio",
			Subsystem: "dispatcher",
			Name:      "request_duration_seconds",
			Help:      "Dispatch latency by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actio",
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Calls forwarded to other nodes by service and status code.",
		}, []string{"service", "code"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actio",
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Remote call latency by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.resolves, m.resolveDuration, m.instances, m.initFailures,
		m.dispatches, m.dispatchDuration, m.remoteCalls, m.remoteDuration,
	}
}

// ObserveResolve records one resolve of class.
func (m *Metrics) ObserveResolve(class, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(class, outcome).Inc()
	if outcome != Cached {
		m.resolveDuration.WithLabelValues(class).Observe(d.Seconds())
	}
	switch outcome {
	case Constructed:
		m.instances.WithLabelValues("local").Inc()
	case Proxied:
		m.instances.WithLabelValues("remote").Inc()
	}
}

// InstanceReplaced records a local instance replaced by a remote-backed one.
func (m *Metrics) InstanceReplaced() {
	if m == nil {
		return
	}
	m.instances.WithLabelValues("local").Dec()
	m.instances.WithLabelValues("remote").Inc()
}

// ObserveInitFailure records a failed init hook.
func (m *Metrics) ObserveInitFailure(class string) {
	if m == nil {
		return
	}
	m.initFailures.WithLabelValues(class).Inc()
}

// ObserveDispatch records one dispatched request.
func (m *Metrics) ObserveDispatch(service, endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	m.dispatchDuration.WithLabelValues(service).Observe(d.Seconds())
}

// ObserveRemoteCall records one call to another node. status is 0 when no
// response was received.
func (m *Metrics) ObserveRemoteCall(service string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(service, strconv.Itoa(status)).Inc()
	m.remoteDuration.WithLabelValues(service).Observe(d.Seconds())
}

// Gatherer returns the registry the collectors live on.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}
