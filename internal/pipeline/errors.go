package pipeline

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Input errors. The pipeline does not run when either is returned.
var (
	ErrNoDocuments = eris.New("pipeline: no documents supplied")
	ErrEmptyQuery  = eris.New("pipeline: query is empty")
)

// Stages reported in AnalysisError and stage metrics.
const (
	StageIndex    = "index"
	StageParse    = "parse"
	StageRetrieve = "retrieve"
	StageRules    = "rules"
	StageExplain  = "explain"
)

// AnalysisError means no decision could be made: the corpus could not be
// built or clauses could not be ranked.
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ExplainError means the verdict stands but its explanation is missing.
// It is returned together with a usable Analysis.
type ExplainError struct {
	Err error
}

func (e *ExplainError) Error() string {
	return fmt.Sprintf("pipeline: explanation unavailable: %v", e.Err)
}

func (e *ExplainError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNoDocuments) || errors.Is(err, ErrEmptyQuery)
}

// IsAnalysisError reports whether err is fatal to the query.
func IsAnalysisError(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}

// IsExplainError reports whether err only affects the explanation.
func IsExplainError(err error) bool {
	var ee *ExplainError
	return errors.As(err, &ee)
}
