// Package metrics exposes Prometheus collectors for extractions, sessions
// and the quote cache. It implements session.Observer and extract.Observer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/ride-scanner/pkg/extract"
)

const namespace = "ride_scanner"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	extractions     *prometheus.CounterVec
	extractDuration *prometheus.HistogramVec
	quotes          *prometheus.CounterVec
	stepFailures    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	sessionCreates  *prometheus.CounterVec
	sessionCreate   *prometheus.HistogramVec
	sessionEvicts   *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Service extractions by outcome.",
		}, []string{"service", "outcome"}),
		extractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time to extract one service, cache hits included.",
			Buckets:   []float64{0.05, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"service"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Ride quotes returned.",
		}, []string{"service"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_step_failures_total",
			Help:      "Navigation steps that failed unexpectedly.",
		}, []string{"service", "step"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Quote cache lookups by result.",
		}, []string{"service", "result"}),
		sessionCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_creates_total",
			Help:      "Automation session creations by result.",
		}, []string{"package", "result"}),
		sessionCreate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_create_duration_seconds",
			Help:      "Time to open an automation session.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}, []string{"package"}),
		sessionEvicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Sessions evicted after the backend dropped them.",
		}, []string{"package"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.extractions,
		m.extractDuration,
		m.quotes,
		m.stepFailures,
		m.cacheLookups,
		m.sessionCreates,
		m.sessionCreate,
		m.sessionEvicts,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ExtractionFinished implements extract.Observer.
func (m *Metrics) ExtractionFinished(r extract.ServiceResult) {
	m.extractions.WithLabelValues(r.Service, r.Outcome()).Inc()
	m.extractDuration.WithLabelValues(r.Service).Observe(r.Duration.Seconds())
	m.quotes.WithLabelValues(r.Service).Add(float64(len(r.Quotes)))
	for _, o := range r.Trail.Failed() {
		m.stepFailures.WithLabelValues(r.Service, o.Step).Inc()
	}
}

// CacheLookup implements extract.Observer.
func (m *Metrics) CacheLookup(service string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(service, result).Inc()
}

// SessionCreated implements session.Observer.
func (m *Metrics) SessionCreated(pkg string, d time.Duration) {
	m.sessionCreates.WithLabelValues(pkg, "ok").Inc()
	m.sessionCreate.WithLabelValues(pkg).Observe(d.Seconds())
}

// SessionCreateFailed implements session.Observer.
func (m *Metrics) SessionCreateFailed(pkg string) {
	m.sessionCreates.WithLabelValues(pkg, "error").Inc()
}

// SessionEvicted implements session.Observer.
func (m *Metrics) SessionEvicted(pkg string) {
	m.sessionEvicts.WithLabelValues(pkg).Inc()
}
