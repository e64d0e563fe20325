// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for niche processing and the API.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	Identifiers      *prometheus.CounterVec
	Jobs             *prometheus.CounterVec
	JobsInflight     prometheus.Gauge
	KeywordsWritten  prometheus.Counter
	ProgressWrites   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	providerCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niche_provider_calls_total",
			Help: "External provider calls by provider and outcome kind.",
		},
		[]string{"provider", "outcome"},
	)
	providerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "niche_provider_call_duration_seconds",
			Help:    "External provider call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	identifiers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niche_identifiers_processed_total",
			Help: "Identifiers processed by outcome.",
		},
		[]string{"outcome"},
	)
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niche_jobs_total",
			Help: "Niche jobs finished by terminal status.",
		},
		[]string{"status"},
	)
	inflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "niche_jobs_inflight",
			Help: "Niche jobs currently running in this process.",
		},
	)
	keywords := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "niche_keywords_written_total",
			Help: "Keyword rows upserted.",
		},
	)
	progressWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niche_progress_writes_total",
			Help: "Progress snapshot writes by result.",
		},
		[]string{"result"},
	)
	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niche_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "niche_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	registry.MustRegister(providerCalls, providerDuration, identifiers, jobs, inflight,
		keywords, progressWrites, httpRequests, httpDuration)

	return &Metrics{
		Registry:         registry,
		ProviderCalls:    providerCalls,
		ProviderDuration: providerDuration,
		Identifiers:      identifiers,
		Jobs:             jobs,
		JobsInflight:     inflight,
		KeywordsWritten:  keywords,
		ProgressWrites:   progressWrites,
		HTTPRequests:     httpRequests,
		HTTPDuration:     httpDuration,
	}
}

// ObserveProviderCall records one provider call. outcome is "ok" or an
// error kind.
func (m *Metrics) ObserveProviderCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncIdentifier counts a processed identifier as succeeded or failed.
func (m *Metrics) IncIdentifier(outcome string) {
	if m == nil {
		return
	}
	m.Identifiers.WithLabelValues(outcome).Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInflight.Inc()
}

// JobFinished records a job's terminal status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsInflight.Dec()
	m.Jobs.WithLabelValues(status).Inc()
}

// AddKeywords counts upserted keyword rows.
func (m *Metrics) AddKeywords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.KeywordsWritten.Add(float64(n))
}

// IncProgressWrite counts a progress write attempt.
func (m *Metrics) IncProgressWrite(result string) {
	if m == nil {
		return
	}
	m.ProgressWrites.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
