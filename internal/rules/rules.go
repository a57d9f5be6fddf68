// Package rules holds the deterministic half of the decision engine: an
// ordered table of guarded waiting-period rules.
package rules

import (
	"fmt"
	"strings"

	"github.com/sells-group/policy-qa/internal/model"
)

// MissingDuration decides what a rule does when the query carries no policy
// duration.
type MissingDuration string

const (
	// MissingReject treats an unknown duration as an unmet waiting period.
	MissingReject MissingDuration = "reject"
	// MissingDefer leaves the decision conditional for manual review.
	MissingDefer MissingDuration = "defer"
)

// Match selects the queries a rule applies to. A rule matches when the
// extracted procedure contains any ProcedureAny term or the raw query
// contains any QueryAny term (case-insensitive).
type Match struct {
	ProcedureAny []string `yaml:"procedure_any" json:"procedure_any,omitempty"`
	QueryAny     []string `yaml:"query_any" json:"query_any,omitempty"`
}

// Rule is one guarded waiting-period check.
type Rule struct {
	Name          string  `yaml:"name" json:"name"`
	Match         Match   `yaml:"match" json:"match"`
	WaitingMonths int     `yaml:"waiting_months" json:"waiting_months"`
	ApproveAmount float64 `yaml:"approve_amount" json:"approve_amount"`
	RejectText    string  `yaml:"reject_text" json:"reject_text"`
	ApproveText   string  `yaml:"approve_text" json:"approve_text"`
}

func (r Rule) matches(parsed model.ParsedQuery) bool {
	proc := strings.ToLower(parsed.ProcedureText())
	if proc != "" {
		for _, term := range r.Match.ProcedureAny {
			if strings.Contains(proc, strings.ToLower(term)) {
				return true
			}
		}
	}
	raw := strings.ToLower(parsed.Raw)
	for _, term := range r.Match.QueryAny {
		if strings.Contains(raw, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Verdict is the rule stage output. Rule and Amount are empty on the
// conditional fallback.
type Verdict struct {
	Decision model.Decision `json:"decision"`
	Rule     string         `json:"rule,omitempty"`
	Amount   *float64       `json:"amount,omitempty"`
}

// Fired reports whether a rule produced the verdict.
func (v Verdict) Fired() bool {
	return v.Rule != ""
}

// Engine evaluates rules in order; the first match wins.
type Engine struct {
	rules   []Rule
	missing MissingDuration
}

// NewEngine creates an engine over rules. An empty missing policy means
// MissingReject.
func NewEngine(rules []Rule, missing MissingDuration) *Engine {
	if missing == "" {
		missing = MissingReject
	}
	return &Engine{rules: append([]Rule(nil), rules...), missing: missing}
}

// Rules returns a copy of the rule table.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Apply evaluates the table against a parsed query. It never fails and
// depends only on its inputs. clauses are accepted for rules that cite
// retrieved text; the built-in rules do not read them.
func (e *Engine) Apply(parsed model.ParsedQuery, _ []model.Clause) Verdict {
	for _, r := range e.rules {
		if !r.matches(parsed) {
			continue
		}
		if !parsed.HasDuration() && e.missing == MissingDefer {
			return Verdict{
				Decision: model.DecisionConditional,
				Rule:     fmt.Sprintf("%s: policy duration unknown, manual review required", r.Name),
			}
		}
		if !parsed.HasDuration() || *parsed.PolicyDurationMonths < r.WaitingMonths {
			return Verdict{
				Decision: model.DecisionRejected,
				Rule:     r.RejectText,
				Amount:   model.Float64Ptr(0),
			}
		}
		return Verdict{
			Decision: model.DecisionApproved,
			Rule:     r.ApproveText,
			Amount:   model.Float64Ptr(r.ApproveAmount),
		}
	}
	return Verdict{Decision: model.DecisionConditional}
}
