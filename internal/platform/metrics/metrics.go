package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the detection engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	pollTicksTotal        prometheus.Counter
	fetchFailuresTotal    prometheus.Counter
	mergesTotal           prometheus.Counter
	batchesRejectedTotal  prometheus.Counter
	staleResultsTotal     prometheus.Counter
	sessionStartsTotal    *prometheus.CounterVec
	detections            *prometheus.GaugeVec
	sessionState          prometheus.Gauge
	summaryPublishedTotal prometheus.Counter
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		pollTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_poll_ticks_total",
			Help: "Total number of poll ticks that issued a fetch",
		}),
		fetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_fetch_failures_total",
			Help: "Total number of failed or timed out detection fetches",
		}),
		mergesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_merges_total",
			Help: "Total number of detection batches merged",
		}),
		batchesRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_batches_rejected_total",
			Help: "Total number of detection batches rejected as malformed",
		}),
		staleResultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_stale_results_total",
			Help: "Total number of fetch results discarded after cancellation",
		}),
		sessionStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facefeed_session_starts_total",
			Help: "Session start attempts by outcome",
		}, []string{"outcome"}),
		detections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "facefeed_detections",
			Help: "Reconciled detections by partition",
		}, []string{"partition"}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facefeed_session_state",
			Help: "Current session state (0 off, 1 starting, 2 on, 3 stopping on error)",
		}),
		summaryPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefeed_summary_published_total",
			Help: "Total number of summaries published to the broker",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.pollTicksTotal,
		m.fetchFailuresTotal,
		m.mergesTotal,
		m.batchesRejectedTotal,
		m.staleResultsTotal,
		m.sessionStartsTotal,
		m.detections,
		m.sessionState,
		m.summaryPublishedTotal,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) IncPollTicks() {
	if m == nil {
		return
	}
	m.pollTicksTotal.Inc()
}

func (m *Metrics) IncFetchFailures() {
	if m == nil {
		return
	}
	m.fetchFailuresTotal.Inc()
}

func (m *Metrics) IncMerges() {
	if m == nil {
		return
	}
	m.mergesTotal.Inc()
}

func (m *Metrics) IncBatchesRejected() {
	if m == nil {
		return
	}
	m.batchesRejectedTotal.Inc()
}

func (m *Metrics) IncStaleResults() {
	if m == nil {
		return
	}
	m.staleResultsTotal.Inc()
}

// IncSessionStarts records a start attempt; outcome is "ok", "failed" or "unavailable".
func (m *Metrics) IncSessionStarts(outcome string) {
	if m == nil {
		return
	}
	m.sessionStartsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSummaryPublished() {
	if m == nil {
		return
	}
	m.summaryPublishedTotal.Inc()
}

// SetDetections sets the partition size gauges.
func (m *Metrics) SetDetections(known, unknown int) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues("known").Set(float64(known))
	m.detections.WithLabelValues("unknown").Set(float64(unknown))
}

// SetSessionState sets the session state gauge.
func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(state))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
