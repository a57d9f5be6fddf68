// Package retriever ranks indexed clauses against a query.
package retriever

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/policy-qa/internal/model"
)

// DefaultK is the number of clauses returned when k is not positive.
const DefaultK = 5

// Retriever ranks clauses with a pluggable Scorer.
type Retriever struct {
	scorer      Scorer
	concurrency int
}

// New creates a Retriever. A nil scorer means KeywordScorer.
func New(scorer Scorer) *Retriever {
	if scorer == nil {
		scorer = KeywordScorer{}
	}
	return &Retriever{scorer: scorer, concurrency: 8}
}

// Retrieve scores copies of clauses, orders them by descending relevance
// (ties keep corpus order), and returns at most k. The input is not modified.
func (r *Retriever) Retrieve(ctx context.Context, query string, clauses []model.Clause, k int) ([]model.Clause, error) {
	if k <= 0 {
		k = DefaultK
	}

	scored := make([]model.Clause, len(clauses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range clauses {
		g.Go(func() error {
			s, err := r.scorer.Score(gctx, query, c)
			if err != nil {
				return err
			}
			c.RelevanceScore = s
			scored[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
