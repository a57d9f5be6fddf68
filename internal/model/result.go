package model

import (
	"github.com/rotisserie/eris"
)

// Decision is the verdict of a policy analysis.
type Decision string

// Decision values.
const (
	DecisionApproved    Decision = "approved"
	DecisionRejected    Decision = "rejected"
	DecisionConditional Decision = "conditional"
	DecisionPending     Decision = "pending"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionConditional, DecisionPending:
		return true
	}
	return false
}

// MaxJustification is the number of clause IDs cited in a result.
const MaxJustification = 3

// PolicyResult is the final output of one query evaluation.
type PolicyResult struct {
	Decision       Decision `json:"decision"`
	Amount         *float64 `json:"amount,omitempty"`
	Rule           string   `json:"rule,omitempty"`
	Confidence     float64  `json:"confidence"`
	Justification  []string `json:"justification"`
	LLMAnswer      string   `json:"llm_answer,omitempty"`
	ProcessingTime int64    `json:"processing_time"`
	TokenUsage     int      `json:"token_usage"`
}

// Validate checks the result invariants.
func (r *PolicyResult) Validate() error {
	if !r.Decision.Valid() {
		return eris.Errorf("result: unknown decision %q", r.Decision)
	}
	if r.Amount != nil {
		if *r.Amount < 0 {
			return eris.Errorf("result: negative amount %v", *r.Amount)
		}
		if r.Decision == DecisionRejected && *r.Amount != 0 {
			return eris.Errorf("result: rejected decision carries amount %v", *r.Amount)
		}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return eris.Errorf("result: confidence %v out of range", r.Confidence)
	}
	if len(r.Justification) > MaxJustification {
		return eris.Errorf("result: %d justification entries", len(r.Justification))
	}
	if r.ProcessingTime < 0 || r.TokenUsage < 0 {
		return eris.New("result: negative processing time or token usage")
	}
	return nil
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
