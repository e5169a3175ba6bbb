package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_nil_receiver_is_noop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRequests()
		m.IncPollTicks()
		m.IncMerges()
		m.SetDetections(1, 2)
		m.SetSessionState(2)
		m.IncSessionStarts("ok")
	})
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.IncPollTicks()
	m.IncPollTicks()
	m.IncFetchFailures()
	m.SetDetections(3, 1)

	assert.InDelta(t, 2, testutil.ToFloat64(m.pollTicksTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetchFailuresTotal), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.detections.WithLabelValues("known")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.detections.WithLabelValues("unknown")), 0)
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	mux.Handle("/metrics", m.Handler(nil))
	h := RequestMiddleware(m, "/metrics")(mux)

	for _, path := range []string{"/ok", "/bad", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.requestsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal), 0)
}

func TestMetrics_Handler_runs_gauge_update(t *testing.T) {
	m := New()
	called := false
	rec := httptest.NewRecorder()

	m.Handler(func() {
		called = true
		m.SetSessionState(2)
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "facefeed_session_state 2"))
}
