package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordAnalysis("approved", 10, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.AnalysesTotal.WithLabelValues("approved")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AnalysesTotal.WithLabelValues("approved")))
}

func TestRecordAnalysis(t *testing.T) {
	m := New()
	m.RecordAnalysis("conditional", 100, true)
	m.RecordAnalysis("rejected", 50, false)

	assert.Equal(t, 150.0, testutil.ToFloat64(m.TokensUsedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExplainFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("rejected")))
}

func TestRecordCorpusBuild(t *testing.T) {
	m := New()
	m.RecordCorpusBuild(5, 20*time.Millisecond)
	m.RecordCorpusBuild(12, 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CorpusBuildsTotal))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CorpusClauses))
}

func TestRecordWebhook(t *testing.T) {
	m := New()
	m.RecordWebhook("analysis_complete", nil)
	m.RecordWebhook("analysis_complete", errors.New("refused"))
	m.RecordWebhook("analysis_complete", errors.New("refused"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("analysis_complete", "delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("analysis_complete", "failed")))
}

func TestTrackInFlight(t *testing.T) {
	m := New()
	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPInFlight))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("/", "200", time.Millisecond)
		m.ObserveStage("parse", time.Millisecond)
		m.RecordAnalysis("approved", 1, false)
		m.RecordCorpusBuild(1, time.Millisecond)
		m.RecordWebhook("error", nil)
		m.TrackInFlight()()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("/api/v1/health", "200", 5*time.Millisecond)
	m.ObserveStage("retrieve", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `policyqa_http_requests_total{route="/api/v1/health",status="200"} 1`)
	assert.Contains(t, string(body), "policyqa_stage_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
