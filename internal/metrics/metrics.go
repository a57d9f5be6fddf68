// Package metrics provides Prometheus metrics for the policy QA service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	// Pipeline
	AnalysesTotal     *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ExplainFailures   prometheus.Counter
	TokensUsedTotal   prometheus.Counter
	CorpusBuildsTotal prometheus.Counter
	CorpusBuildTime   prometheus.Histogram
	CorpusClauses     prometheus.Gauge

	// Webhooks
	WebhookDeliveries *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policyqa_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policyqa_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "policyqa_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),

		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policyqa_analyses_total",
			Help: "Total number of analyses by outcome",
		}, []string{"decision"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policyqa_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		ExplainFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_explain_failures_total",
			Help: "Explanations that failed or timed out",
		}),
		TokensUsedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_tokens_used_total",
			Help: "Tokens reported by explainers",
		}),
		CorpusBuildsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "policyqa_corpus_builds_total",
			Help: "Number of corpora built",
		}),
		CorpusBuildTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "policyqa_corpus_build_duration_seconds",
			Help:    "Time to load and segment a document set",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		CorpusClauses: f.NewGauge(prometheus.GaugeOpts{
			Name: "policyqa_corpus_clauses",
			Help: "Clauses in the most recently built corpus",
		}),

		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policyqa_webhook_deliveries_total",
			Help: "Webhook deliveries by event and result",
		}, []string{"event", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPInFlight.Inc()
	return m.HTTPInFlight.Dec
}

// ObserveStage records the duration of a pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordAnalysis counts a finished analysis.
func (m *Metrics) RecordAnalysis(decision string, tokens int, explainFailed bool) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(decision).Inc()
	m.TokensUsedTotal.Add(float64(tokens))
	if explainFailed {
		m.ExplainFailures.Inc()
	}
}

// RecordCorpusBuild records a corpus build.
func (m *Metrics) RecordCorpusBuild(clauses int, d time.Duration) {
	if m == nil {
		return
	}
	m.CorpusBuildsTotal.Inc()
	m.CorpusBuildTime.Observe(d.Seconds())
	m.CorpusClauses.Set(float64(clauses))
}

// RecordWebhook counts a webhook delivery attempt.
func (m *Metrics) RecordWebhook(event string, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.WebhookDeliveries.WithLabelValues(event, result).Inc()
}
