package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/store"
	"github.com/sells-group/policy-qa/internal/webhook"
	"github.com/sells-group/policy-qa/pkg/hackrx"
)

// HackRXResponse is the run envelope plus the webhook outcome.
type HackRXResponse struct {
	hackrx.Response
	Webhook *WebhookStatus `json:"webhook,omitempty"`
}

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Query      string   `json:"query"`
	Documents  []string `json:"documents"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

// AnalyzeResponse is returned by POST /api/v1/analyze and
// GET /api/v1/analyses/{id}.
type AnalyzeResponse struct {
	ID       string             `json:"id"`
	Query    string             `json:"query"`
	Result   model.PolicyResult `json:"result"`
	Parsed   model.ParsedQuery  `json:"parsed"`
	Warnings []string           `json:"warnings,omitempty"`
	Webhook  *WebhookStatus     `json:"webhook,omitempty"`
}

// WebhookStatus reports a delivery attempt separately from the analysis.
type WebhookStatus struct {
	Event     string `json:"event"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleHackRX(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateBody(hackrxSchema, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req hackrx.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	zap.L().Info("hackrx submission received",
		zap.Int("documents", len(req.Documents)),
		zap.Int("questions", len(req.Questions)),
	)

	answers := make([]hackrx.Answer, len(req.Questions))
	warnings := make([][]string, len(req.Questions))
	failed := make([]bool, len(req.Questions))

	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.opts.MaxConcurrentQuestions)
	for i, q := range req.Questions {
		g.Go(func() error {
			a, err := s.analyzer.Analyze(gctx, q, req.Documents)
			if err != nil && !pipeline.IsExplainError(err) {
				if !questionScoped(err) {
					return fmt.Errorf("question %d: %w", i+1, err)
				}
				zap.L().Warn("hackrx question failed", zap.Int("question", i+1), zap.Error(err))
				answers[i] = hackrx.Answer{Question: q, Error: err.Error()}
				failed[i] = true
				return nil
			}
			s.record(gctx, a)
			answers[i] = hackrx.Answer{
				Question:         q,
				Answer:           answerText(a),
				Decision:         string(a.Result.Decision),
				Confidence:       a.Result.Confidence,
				ProcessingTimeMS: a.Result.ProcessingTime,
			}
			for _, wmsg := range a.Warnings {
				warnings[i] = append(warnings[i], fmt.Sprintf("question %d: %s", i+1, wmsg))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Error("hackrx submission failed", zap.Error(err))
		s.notify(r.Context(), "", webhook.NewPayload(webhook.EventError, webhook.Data{
			Documents: req.Documents,
			Error:     err.Error(),
		}))
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := HackRXResponse{Response: hackrx.Response{
		Status:    "success",
		Message:   "Analysis completed successfully",
		Timestamp: time.Now().UTC(),
		Data:      hackrx.Data{Answers: answers},
	}}
	if n := countTrue(failed); n > 0 {
		resp.Status = "partial"
		resp.Message = fmt.Sprintf("Analysis completed; %d of %d questions failed", n, len(failed))
	}
	for _, ws := range warnings {
		resp.Warnings = append(resp.Warnings, ws...)
	}
	resp.Webhook = s.notify(r.Context(), "", webhook.NewPayload(webhook.EventAPISubmissionComplete, webhook.Data{
		Documents: req.Documents,
		Result:    resp.Data,
	}))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateBody(analyzeSchema, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WebhookURL != "" {
		if _, err := webhook.ValidateURL(req.WebhookURL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	a, err := s.analyzer.Analyze(r.Context(), req.Query, req.Documents)
	if err != nil && !pipeline.IsExplainError(err) {
		if pipeline.IsAnalysisError(err) {
			s.notify(r.Context(), req.WebhookURL, webhook.NewPayload(webhook.EventError, webhook.Data{
				Query:     req.Query,
				Documents: req.Documents,
				Error:     err.Error(),
			}))
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err != nil {
		zap.L().Warn("analysis returned without explanation", zap.String("id", a.ID), zap.Error(err))
	}
	s.record(r.Context(), a)

	resp := responseFor(a)
	resp.Webhook = s.notify(r.Context(), req.WebhookURL, webhook.NewPayload(webhook.EventAnalysisComplete, webhook.Data{
		Query:     req.Query,
		Documents: req.Documents,
		Result:    a.Result,
	}))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis store is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	a, err := s.store.GetAnalysis(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("analysis %s not found", id))
		return
	}
	if err != nil {
		zap.L().Error("get analysis failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}
	writeJSON(w, http.StatusOK, responseFor(a))
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis store is disabled")
		return
	}
	q := r.URL.Query()
	filter := store.AnalysisFilter{Decision: model.Decision(q.Get("decision"))}
	if filter.Decision != "" && !filter.Decision.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown decision %q", filter.Decision))
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", name))
				return
			}
			*dst = n
		}
	}

	list, err := s.store.ListAnalyses(r.Context(), filter)
	if err != nil {
		zap.L().Error("list analyses failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	out := make([]AnalyzeResponse, 0, len(list))
	for i := range list {
		out = append(out, responseFor(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func responseFor(a *pipeline.Analysis) AnalyzeResponse {
	return AnalyzeResponse{
		ID:       a.ID,
		Query:    a.Query,
		Result:   a.Result,
		Parsed:   a.Parsed,
		Warnings: a.Warnings,
	}
}

// answerText prefers the generated explanation and falls back to the rule
// verdict when the explanation is missing.
func answerText(a *pipeline.Analysis) string {
	switch {
	case a.Result.LLMAnswer != "":
		return a.Result.LLMAnswer
	case a.Result.Rule != "":
		return a.Result.Rule
	default:
		return fmt.Sprintf("Decision: %s", a.Result.Decision)
	}
}

// statusFor maps pipeline errors onto HTTP status codes.
// questionScoped reports whether err concerns a single question. Index
// failures are shared by every question in the run and stay fatal.
func questionScoped(err error) bool {
	var ae *pipeline.AnalysisError
	return errors.As(err, &ae) && ae.Stage != pipeline.StageIndex
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func statusFor(err error) int {
	switch {
	case pipeline.IsInputError(err):
		return http.StatusBadRequest
	case pipeline.IsAnalysisError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "read request body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"status":    "error",
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
