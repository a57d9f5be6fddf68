// Package explain produces the free-text explanation that accompanies a
// verdict. The verdict itself is final before an explainer runs.
package explain

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/rules"
)

// Request carries everything an explainer may cite.
type Request struct {
	Query   string
	Parsed  model.ParsedQuery
	Clauses []model.Clause
	Verdict rules.Verdict
}

// Explanation is the explainer output. TokensUsed is reported for accounting.
type Explanation struct {
	Text       string
	TokensUsed int
}

// Explainer turns a request into prose. Implementations may block on remote
// calls and must honour ctx.
type Explainer interface {
	Explain(ctx context.Context, req Request) (Explanation, error)
}

// ErrTimeout is returned by WithTimeout when the deadline passes first.
var ErrTimeout = eris.New("explain: timed out")

type timeoutExplainer struct {
	inner Explainer
	d     time.Duration
}

// WithTimeout bounds e to d. The wrapped call is abandoned, not waited on,
// when the deadline passes. A non-positive d returns e unchanged.
func WithTimeout(e Explainer, d time.Duration) Explainer {
	if d <= 0 {
		return e
	}
	return &timeoutExplainer{inner: e, d: d}
}

func (t *timeoutExplainer) Explain(ctx context.Context, req Request) (Explanation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		exp Explanation
		err error
	}
	done := make(chan result, 1)
	go func() {
		exp, err := t.inner.Explain(ctx, req)
		done <- result{exp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && eris.Is(ctx.Err(), context.DeadlineExceeded) {
			return Explanation{}, eris.Wrapf(ErrTimeout, "after %s", t.d)
		}
		return r.exp, r.err
	case <-ctx.Done():
		if eris.Is(ctx.Err(), context.DeadlineExceeded) {
			return Explanation{}, eris.Wrapf(ErrTimeout, "after %s", t.d)
		}
		return Explanation{}, ctx.Err()
	}
}

const systemPrompt = `You are an insurance policy analyst. Answer the user's question using only the policy clauses provided. Cite clauses by their section name in square brackets, e.g. [Clause: Premium Payment]. If a deterministic rule has already decided the claim, explain that decision and do not contradict it. Answer in at most four sentences.`

// BuildPrompt renders the user message sent to generative explainers.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Policy clauses:\n\n")
	for _, c := range req.Clauses {
		fmt.Fprintf(&b, "[%s] (%s, relevance %.2f)\n%s\n\n", c.ClauseID, c.Section, c.RelevanceScore, c.Content)
	}
	if len(req.Parsed.ExtractedEntities) > 0 {
		fmt.Fprintf(&b, "Extracted details: %s\n\n", strings.Join(req.Parsed.ExtractedEntities, "; "))
	}
	if req.Verdict.Fired() {
		fmt.Fprintf(&b, "Rule decision: %s (%s)\n\n", req.Verdict.Decision, req.Verdict.Rule)
	}
	fmt.Fprintf(&b, "Question: %s\n", req.Query)
	return b.String()
}

// estimateTokens approximates a tokenizer at four characters per token.
func estimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}
