package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Review outcomes recorded by RecordReview.
const (
	OutcomeImported = "imported"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec

	// SyncRuns counts review sync runs by result
	SyncRuns *prometheus.CounterVec
	// SyncDuration tracks how long a sync run takes
	SyncDuration prometheus.Histogram
	// ReviewsProcessed counts reviews by import outcome
	ReviewsProcessed *prometheus.CounterVec
	// LastSyncTimestamp is the unix time of the last completed run
	LastSyncTimestamp prometheus.Gauge
	// UpstreamRequests counts calls to Google APIs by operation and status class
	UpstreamRequests *prometheus.CounterVec
	// UpstreamLatency tracks Google API latency per operation
	UpstreamLatency *prometheus.HistogramVec
	// TokenRefreshes counts OAuth token refreshes by result
	TokenRefreshes *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "review_sync_runs_total",
				Help:      "Total number of review sync runs",
			},
			[]string{"result"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "review_sync_duration_seconds",
				Help:      "Duration of review sync runs",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		ReviewsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reviews_processed_total",
				Help:      "Reviews seen by the importer by outcome",
			},
			[]string{"outcome"},
		),
		LastSyncTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "review_sync_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful review sync",
			},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Requests sent to Google APIs",
			},
			[]string{"operation", "status"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Latency of Google API calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_token_refreshes_total",
				Help:      "OAuth token refresh attempts",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.SyncRuns,
		m.SyncDuration,
		m.ReviewsProcessed,
		m.LastSyncTimestamp,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.TokenRefreshes,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordSyncRun records the result of one sync run. A nil receiver is a no-op
// so callers can run without metrics.
func (m *Metrics) RecordSyncRun(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(duration.Seconds())
	if result == "success" {
		m.LastSyncTimestamp.SetToCurrentTime()
	}
}

// RecordReview counts one review outcome.
func (m *Metrics) RecordReview(outcome string) {
	if m == nil {
		return
	}
	m.ReviewsProcessed.WithLabelValues(outcome).Inc()
}

// RecordUpstream records one Google API call. status is the HTTP code, or
// "error" for transport failures.
func (m *Metrics) RecordUpstream(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(operation, status).Inc()
	m.UpstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTokenRefresh counts a refresh attempt.
func (m *Metrics) RecordTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}
