package retriever

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/embedding"
	"github.com/sells-group/policy-qa/internal/model"
)

// Scorer rates how relevant a clause is to a query. Scores are in [0,1].
type Scorer interface {
	Score(ctx context.Context, query string, clause model.Clause) (float64, error)
}

const (
	keywordWeight = 0.2
	sectionBonus  = 0.3
)

var vocabulary = []string{
	"surgery", "knee", "joint", "maternity", "grace", "premium", "waiting", "period", "coverage",
}

type sectionHint struct {
	queryTerm string
	section   string
}

var sectionHints = []sectionHint{
	{"surgery", "Coverage"},
	{"maternity", "Maternity"},
	{"grace", "Premium"},
}

// KeywordScorer counts domain keywords shared by query and clause, with a
// bonus when the query names a topic the clause's section is about.
type KeywordScorer struct{}

// Score implements Scorer.
func (KeywordScorer) Score(_ context.Context, query string, clause model.Clause) (float64, error) {
	q := strings.ToLower(query)
	content := strings.ToLower(clause.Content)

	var score float64
	for _, kw := range vocabulary {
		if strings.Contains(q, kw) && strings.Contains(content, kw) {
			score += keywordWeight
		}
	}
	for _, h := range sectionHints {
		if strings.Contains(q, h.queryTerm) && strings.Contains(clause.Section, h.section) {
			score += sectionBonus
		}
	}
	return math.Min(score, 1.0), nil
}

// EmbeddingScorer rates clauses by cosine similarity of their embeddings.
// Negative similarity counts as irrelevant.
type EmbeddingScorer struct {
	embedder embedding.Embedder
}

// NewEmbeddingScorer wraps e in a cache so each clause is embedded once.
func NewEmbeddingScorer(e embedding.Embedder) *EmbeddingScorer {
	if _, ok := e.(*embedding.Cached); !ok {
		e = embedding.NewCached(e)
	}
	return &EmbeddingScorer{embedder: e}
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, query string, clause model.Clause) (float64, error) {
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "retriever: embed query")
	}
	cv, err := s.embedder.Embed(ctx, clause.Content)
	if err != nil {
		return 0, eris.Wrapf(err, "retriever: embed clause %s", clause.ClauseID)
	}
	return math.Max(0, math.Min(embedding.Cosine(qv, cv), 1.0)), nil
}
