// Package pipeline answers one policy question end to end: index the
// documents, parse the question, rank clauses, apply rules, explain.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/corpus"
	"github.com/sells-group/policy-qa/internal/explain"
	"github.com/sells-group/policy-qa/internal/metrics"
	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/parser"
	"github.com/sells-group/policy-qa/internal/retriever"
	"github.com/sells-group/policy-qa/internal/rules"
)

const (
	baseConfidence     = 0.85
	relevanceWeight    = 0.10
	degradedConfidence = 0.5
)

// Analysis is one completed query evaluation.
type Analysis struct {
	ID        string             `json:"id"`
	Query     string             `json:"query"`
	Documents []string           `json:"documents"`
	Parsed    model.ParsedQuery  `json:"parsed"`
	Retrieved []model.Clause     `json:"retrieved_clauses"`
	Result    model.PolicyResult `json:"result"`
	Warnings  []string           `json:"warnings,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

const explainWarningPrefix = "explanation unavailable: "

// ExplainFailed reports whether the analysis was returned without an
// explanation.
func (a *Analysis) ExplainFailed() bool {
	for _, w := range a.Warnings {
		if strings.HasPrefix(w, explainWarningPrefix) {
			return true
		}
	}
	return false
}

// Analyzer wires the pipeline stages. Construct one per process (or per
// test) with New; it is safe for concurrent use.
type Analyzer struct {
	index     *corpus.Index
	parser    parser.Extractor
	retriever *retriever.Retriever
	rules     *rules.Engine
	explainer explain.Explainer
	topK      int
	metrics   *metrics.Metrics
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRetriever replaces the keyword retriever.
func WithRetriever(r *retriever.Retriever) Option { return func(a *Analyzer) { a.retriever = r } }

// WithRules replaces the built-in rule table.
func WithRules(e *rules.Engine) Option { return func(a *Analyzer) { a.rules = e } }

// WithExplainer replaces the template explainer.
func WithExplainer(e explain.Explainer) Option { return func(a *Analyzer) { a.explainer = e } }

// WithTopK sets how many clauses are retrieved.
func WithTopK(k int) Option { return func(a *Analyzer) { a.topK = k } }

// WithMetrics records stage timings and outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Analyzer) { a.metrics = m } }

// New creates an Analyzer over index with defaults for every stage.
func New(index *corpus.Index, opts ...Option) *Analyzer {
	a := &Analyzer{
		index:     index,
		parser:    parser.Default,
		retriever: retriever.New(retriever.KeywordScorer{}),
		rules:     rules.NewEngine(rules.DefaultTable().Rules, rules.MissingReject),
		explainer: explain.TemplateExplainer{},
		topK:      retriever.DefaultK,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze evaluates query against documents.
//
// Input problems return ErrEmptyQuery or ErrNoDocuments before any stage
// runs. Indexing and retrieval failures return an *AnalysisError. When only
// the explanation fails, the Analysis is returned with an *ExplainError and
// its verdict intact.
func (a *Analyzer) Analyze(ctx context.Context, query string, documents []string) (*Analysis, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if !hasDocument(documents) {
		return nil, ErrNoDocuments
	}

	id := uuid.New().String()
	log := zap.L().With(zap.String("analysis_id", id))
	log.Info("pipeline: starting analysis", zap.Int("documents", len(documents)))

	var c *corpus.Corpus
	if err := a.stage(StageIndex, func() error {
		var err error
		c, err = a.index.Ensure(ctx, documents)
		return err
	}); err != nil {
		log.Error("pipeline: indexing failed", zap.Error(err))
		return nil, &AnalysisError{Stage: StageIndex, Err: err}
	}

	var parsed model.ParsedQuery
	_ = a.stage(StageParse, func() error {
		parsed = a.parser.Parse(query)
		return nil
	})

	var retrieved []model.Clause
	if err := a.stage(StageRetrieve, func() error {
		var err error
		retrieved, err = a.retriever.Retrieve(ctx, query, c.Clauses(), a.topK)
		return err
	}); err != nil {
		log.Error("pipeline: retrieval failed", zap.Error(err))
		return nil, &AnalysisError{Stage: StageRetrieve, Err: err}
	}

	var verdict rules.Verdict
	_ = a.stage(StageRules, func() error {
		verdict = a.rules.Apply(parsed, retrieved)
		return nil
	})

	var exp explain.Explanation
	explainErr := a.stage(StageExplain, func() error {
		var err error
		exp, err = a.explainer.Explain(ctx, explain.Request{
			Query:   query,
			Parsed:  parsed,
			Clauses: retrieved,
			Verdict: verdict,
		})
		return err
	})

	result := model.PolicyResult{
		Decision:      verdict.Decision,
		Amount:        verdict.Amount,
		Rule:          verdict.Rule,
		Confidence:    confidence(retrieved, verdict.Decision, explainErr != nil),
		Justification: model.ClauseIDs(retrieved, model.MaxJustification),
		TokenUsage:    exp.TokensUsed,
	}
	var warnings []string
	if explainErr == nil {
		result.LLMAnswer = exp.Text
	} else {
		result.TokenUsage = 0
		warnings = append(warnings, explainWarningPrefix+explainErr.Error())
		log.Warn("pipeline: explanation failed, keeping rule verdict",
			zap.String("decision", string(verdict.Decision)),
			zap.Error(explainErr),
		)
	}
	result.ProcessingTime = time.Since(start).Milliseconds()

	if err := result.Validate(); err != nil {
		log.Error("pipeline: result failed validation", zap.Error(err))
	}

	analysis := &Analysis{
		ID:        id,
		Query:     query,
		Documents: c.Documents,
		Parsed:    parsed,
		Retrieved: retrieved,
		Result:    result,
		Warnings:  warnings,
		CreatedAt: start.UTC(),
	}

	a.metrics.RecordAnalysis(string(result.Decision), result.TokenUsage, explainErr != nil)
	log.Info("pipeline: analysis complete",
		zap.String("decision", string(result.Decision)),
		zap.String("rule", result.Rule),
		zap.Float64("confidence", result.Confidence),
		zap.Int64("duration_ms", result.ProcessingTime),
	)

	if explainErr != nil {
		return analysis, &ExplainError{Err: explainErr}
	}
	return analysis, nil
}

func (a *Analyzer) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	a.metrics.ObserveStage(name, time.Since(start))
	return err
}

// confidence is 0.85 plus up to 0.10 scaled by the mean relevance of the
// cited clauses. A conditional verdict with no explanation has nothing
// backing it and drops to 0.5.
func confidence(retrieved []model.Clause, decision model.Decision, explainFailed bool) float64 {
	if explainFailed && decision == model.DecisionConditional {
		return degradedConfidence
	}
	n := min(len(retrieved), model.MaxJustification)
	if n == 0 {
		return baseConfidence
	}
	var sum float64
	for _, c := range retrieved[:n] {
		sum += c.RelevanceScore
	}
	return baseConfidence + relevanceWeight*(sum/float64(n))
}

func hasDocument(docs []string) bool {
	for _, d := range docs {
		if strings.TrimSpace(d) != "" {
			return true
		}
	}
	return false
}
