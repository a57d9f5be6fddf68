// Package store persists completed analyses so they can be fetched by ID
// after the request that produced them has returned.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
)

// ErrNotFound is returned by GetAnalysis for an unknown ID.
var ErrNotFound = eris.New("store: analysis not found")

const defaultListLimit = 100

// AnalysisFilter specifies criteria for listing analyses.
type AnalysisFilter struct {
	Decision model.Decision `json:"decision,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis audit log.
type Store interface {
	SaveAnalysis(ctx context.Context, a *pipeline.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*pipeline.Analysis, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]pipeline.Analysis, error)

	Migrate(ctx context.Context) error
	Close() error
}

// record is the persisted shape of an analysis. Retrieved clauses carry
// per-query relevance scores and are not stored.
type record struct {
	ID        string
	Query     string
	Documents []byte
	Decision  string
	Parsed    []byte
	Result    []byte
	Warnings  []byte
	CreatedAt time.Time
}

func toRecord(a *pipeline.Analysis) (*record, error) {
	if a == nil || a.ID == "" {
		return nil, eris.New("store: analysis id is required")
	}
	docs, err := json.Marshal(a.Documents)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal documents")
	}
	parsed, err := json.Marshal(a.Parsed)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal parsed query")
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal result")
	}
	warnings, err := json.Marshal(a.Warnings)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal warnings")
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &record{
		ID:        a.ID,
		Query:     a.Query,
		Documents: docs,
		Decision:  string(a.Result.Decision),
		Parsed:    parsed,
		Result:    result,
		Warnings:  warnings,
		CreatedAt: created.UTC(),
	}, nil
}

func (r *record) analysis() (*pipeline.Analysis, error) {
	a := &pipeline.Analysis{
		ID:        r.ID,
		Query:     r.Query,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Documents, &a.Documents); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal documents for %s", r.ID)
	}
	if err := json.Unmarshal(r.Parsed, &a.Parsed); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal parsed query for %s", r.ID)
	}
	if err := json.Unmarshal(r.Result, &a.Result); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal result for %s", r.ID)
	}
	if len(r.Warnings) > 0 {
		if err := json.Unmarshal(r.Warnings, &a.Warnings); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal warnings for %s", r.ID)
		}
	}
	return a, nil
}

func listLimit(filter AnalysisFilter) int {
	if filter.Limit <= 0 {
		return defaultListLimit
	}
	return filter.Limit
}
