// Package telemetry exposes Prometheus metrics for sweeps, connectors,
// webhooks and the dashboard cache.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "execdash"

// Metrics holds all execdash collectors. A nil *Metrics is valid and records
// nothing, so packages can be used without a registry.
type Metrics struct {
	SweepsTotal     *prometheus.CounterVec
	RecordsUpserted *prometheus.CounterVec
	SourceErrors    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WebhooksTotal   *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	registry        *prometheus.Registry
}

// New creates the collectors and registers them on a private registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "ETL sweeps by scope and final status",
		},
		[]string{"scope", "status"},
	)
	m.RecordsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_upserted_total",
			Help:      "Canonical rows upserted by kind and origin (sweep or webhook)",
		},
		[]string{"kind", "origin"},
	)
	m.SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Per-source sweep failures",
		},
		[]string{"source"},
	)
	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_request_duration_seconds",
			Help:      "Upstream connector request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source", "outcome"},
	)
	m.WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	m.CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Dashboard cache lookups by key and result",
		},
		[]string{"key", "result"},
	)
	m.SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a full sweep",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	m.registry.MustRegister(
		m.SweepsTotal,
		m.RecordsUpserted,
		m.SourceErrors,
		m.RequestDuration,
		m.WebhooksTotal,
		m.CacheLookups,
		m.SweepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SweepFinished(scope, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(scope, status).Inc()
	m.SweepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Upserted(kind, origin string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsUpserted.WithLabelValues(kind, origin).Add(float64(n))
}

func (m *Metrics) SourceFailed(source string) {
	if m == nil {
		return
	}
	m.SourceErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRequest(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(source, outcome).Observe(d.Seconds())
}

func (m *Metrics) Webhook(source, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) CacheLookup(key string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(key, result).Inc()
}
