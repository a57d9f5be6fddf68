package explain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/parser"
	"github.com/sells-group/policy-qa/internal/rules"
)

func sampleRequest(query string) Request {
	return Request{
		Query:  query,
		Parsed: parser.Parse(query),
		Clauses: []model.Clause{{
			ClauseID:       "policy.pdf::3",
			Section:        "Premium Payment",
			Content:        "Grace period for premium payment is thirty (30) days from the due date.",
			RelevanceScore: 0.9,
		}},
	}
}

func TestTemplateExplainer_GracePeriod(t *testing.T) {
	exp, err := TemplateExplainer{}.Explain(context.Background(), sampleRequest("What is the grace period for premium payment?"))
	require.NoError(t, err)
	assert.Contains(t, exp.Text, "thirty (30) days")
	assert.Positive(t, exp.TokensUsed)
}

func TestTemplateExplainer_NoClaimDiscount(t *testing.T) {
	exp, err := TemplateExplainer{}.Explain(context.Background(), sampleRequest("How does the No Claim Discount work?"))
	require.NoError(t, err)
	assert.Contains(t, exp.Text, "25%")
}

func TestTemplateExplainer_Generic(t *testing.T) {
	q := "Is cataract surgery covered?"
	exp, err := TemplateExplainer{}.Explain(context.Background(), sampleRequest(q))
	require.NoError(t, err)
	assert.Contains(t, exp.Text, `"Is cataract surgery covered?"`)
}

func TestTemplateExplainer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := TemplateExplainer{}.Explain(ctx, sampleRequest("grace period"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPrompt(t *testing.T) {
	req := sampleRequest("46-year-old male, knee surgery, policy started 3 months ago")
	req.Verdict = rules.Verdict{Decision: model.DecisionRejected, Rule: "Joint replacement surgery requires 24 months waiting period"}

	p := BuildPrompt(req)
	assert.Contains(t, p, "[policy.pdf::3] (Premium Payment, relevance 0.90)")
	assert.Contains(t, p, "Extracted details: age: 46")
	assert.Contains(t, p, "Rule decision: rejected (Joint replacement surgery requires 24 months waiting period)")
	assert.Contains(t, p, "Question: 46-year-old male")
}

func TestBuildPrompt_NoVerdict(t *testing.T) {
	p := BuildPrompt(Request{Query: "hello"})
	assert.NotContains(t, p, "Rule decision")
	assert.NotContains(t, p, "Extracted details")
}

type funcExplainer func(ctx context.Context, req Request) (Explanation, error)

func (f funcExplainer) Explain(ctx context.Context, req Request) (Explanation, error) {
	return f(ctx, req)
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	e := WithTimeout(TemplateExplainer{}, time.Second)
	exp, err := e.Explain(context.Background(), sampleRequest("grace period"))
	require.NoError(t, err)
	assert.Contains(t, exp.Text, "thirty (30) days")
}

func TestWithTimeout_ContextAwareInner(t *testing.T) {
	slow := funcExplainer(func(ctx context.Context, _ Request) (Explanation, error) {
		<-ctx.Done()
		return Explanation{}, ctx.Err()
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Explain(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWithTimeout_IgnoresContextInner(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := funcExplainer(func(context.Context, Request) (Explanation, error) {
		<-release
		return Explanation{Text: "late"}, nil
	})

	start := time.Now()
	_, err := WithTimeout(stuck, 10*time.Millisecond).Explain(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeout_InnerError(t *testing.T) {
	boom := errors.New("boom")
	failing := funcExplainer(func(context.Context, Request) (Explanation, error) {
		return Explanation{}, boom
	})
	_, err := WithTimeout(failing, time.Second).Explain(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
}

func TestWithTimeout_ZeroReturnsInner(t *testing.T) {
	inner := TemplateExplainer{}
	assert.Equal(t, Explainer(inner), WithTimeout(inner, 0))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 2, estimateTokens("abcdefgh"))
	assert.Equal(t, 1, estimateTokens("₹₹₹₹"))
}
