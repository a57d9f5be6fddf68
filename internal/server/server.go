// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/metrics"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/store"
	"github.com/sells-group/policy-qa/internal/webhook"
)

const (
	maxBodyBytes            = 1 << 20
	defaultConcurrency      = 4
	defaultProductionOrigin = "https://policy-qa-engine.onrender.com"
)

// DevelopmentOrigins are allowed by CORS outside production.
var DevelopmentOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://localhost:8081",
	"http://localhost:8082",
}

// Analyzer runs one question against a document set.
type Analyzer interface {
	Analyze(ctx context.Context, query string, documents []string) (*pipeline.Analysis, error)
}

// Options configures a Server.
type Options struct {
	Environment            string
	CORSOrigin             string
	APIToken               string
	MaxConcurrentQuestions int
	// WebhookURL receives events when a request does not name its own.
	WebhookURL string
}

// HealthCheck reports on one component for GET /api/v1/health. A non-nil
// error marks the service degraded; detail is included either way.
type HealthCheck func() (detail any, err error)

// Server routes HTTP requests to the analyzer. The store, webhook sender and
// metrics are optional.
type Server struct {
	analyzer Analyzer
	store    store.Store
	webhooks *webhook.Sender
	metrics  *metrics.Metrics
	checks   map[string]HealthCheck
	opts     Options
	router   chi.Router
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithStore records analyses in st.
func WithStore(st store.Store) Option { return func(s *Server) { s.store = st } }

// WithWebhooks delivers events through ws.
func WithWebhooks(ws *webhook.Sender) Option { return func(s *Server) { s.webhooks = ws } }

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithHealthCheck adds a named component to the health report.
func WithHealthCheck(name string, fn HealthCheck) Option {
	return func(s *Server) {
		if s.checks == nil {
			s.checks = make(map[string]HealthCheck)
		}
		s.checks[name] = fn
	}
}

// New builds the router.
func New(analyzer Analyzer, opts Options, options ...Option) *Server {
	if opts.Environment == "" {
		opts.Environment = "development"
	}
	if opts.MaxConcurrentQuestions <= 0 {
		opts.MaxConcurrentQuestions = defaultConcurrency
	}
	s := &Server{analyzer: analyzer, opts: opts}
	for _, o := range options {
		o(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(s.corsOptions()))

	r.Get("/", s.handleIndex)
	r.Get("/api/v1/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/api/v1/hackrx/run", s.handleHackRX)
		r.Post("/api/v1/analyze", s.handleAnalyze)
		r.Get("/api/v1/analyses", s.handleListAnalyses)
		r.Get("/api/v1/analyses/{id}", s.handleGetAnalysis)
	})
	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := DevelopmentOrigins
	if s.opts.Environment == "production" {
		origin := s.opts.CORSOrigin
		if origin == "" {
			origin = defaultProductionOrigin
		}
		origins = []string{origin}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Bearer"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// observe records metrics and an access log line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		done := s.metrics.TrackInFlight()
		defer done()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(status), elapsed)

		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireToken enforces bearer auth when an API token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.opts.APIToken == "" {
		return next
	}
	want := []byte(s.opts.APIToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Policy-QA Engine API Server",
		"endpoints": []string{
			"/api/v1/health",
			"/api/v1/hackrx/run",
			"/api/v1/analyze",
			"/api/v1/analyses/{id}",
		},
		"environment": s.opts.Environment,
	})
}

// componentHealth is one entry of the health report.
type componentHealth struct {
	Status string `json:"status"`
	Detail any    `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"environment": s.opts.Environment,
	}
	if len(s.checks) > 0 {
		components := make(map[string]componentHealth, len(s.checks))
		for name, check := range s.checks {
			detail, err := check()
			c := componentHealth{Status: "ok", Detail: detail}
			if err != nil {
				c.Status = "degraded"
				c.Error = err.Error()
				body["status"] = "degraded"
			}
			components[name] = c
		}
		body["components"] = components
	}
	writeJSON(w, http.StatusOK, body)
}

// record saves a to the audit store, logging failures.
func (s *Server) record(ctx context.Context, a *pipeline.Analysis) {
	if s.store == nil || a == nil {
		return
	}
	if err := s.store.SaveAnalysis(context.WithoutCancel(ctx), a); err != nil {
		zap.L().Warn("server: save analysis failed", zap.String("id", a.ID), zap.Error(err))
	}
}

// notify delivers p when a webhook target is known. The returned status is
// nil when nothing was attempted.
func (s *Server) notify(ctx context.Context, target string, p webhook.Payload) *WebhookStatus {
	if target == "" {
		target = s.opts.WebhookURL
	}
	if s.webhooks == nil || target == "" {
		return nil
	}
	err := s.webhooks.Send(context.WithoutCancel(ctx), target, p)
	st := &WebhookStatus{Event: string(p.Event), Delivered: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
