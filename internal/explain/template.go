package explain

import (
	"context"
	"fmt"
	"strings"
)

const (
	gracePeriodAnswer = "Based on the policy terms, a grace period of thirty (30) days is provided for premium payment after the due date. During this period, the policy remains active and all benefits continue to apply. [Clause: Premium Payment Terms]"

	noClaimDiscountAnswer = "The policy offers a No Claim Discount (NCD) of 5% on the base premium for each claim-free year. This discount is applicable on renewal and can accumulate up to a maximum of 25% of the total base premium. [Clause: No Claim Discount Terms]"
)

// TemplateExplainer answers from canned text without calling a model.
// Two recognised intents get specific answers; everything else gets a
// generic sentence that quotes the question.
type TemplateExplainer struct{}

// Explain implements Explainer.
func (TemplateExplainer) Explain(ctx context.Context, req Request) (Explanation, error) {
	if err := ctx.Err(); err != nil {
		return Explanation{}, err
	}

	q := strings.ToLower(req.Query)
	var text string
	switch {
	case strings.Contains(q, "grace period"):
		text = gracePeriodAnswer
	case strings.Contains(q, "no claim discount"):
		text = noClaimDiscountAnswer
	default:
		text = fmt.Sprintf("Based on the analysis of the policy clauses and the query %q, the system has evaluated the relevant terms and conditions. The decision considers factors such as waiting periods, coverage limits, and eligibility criteria as specified in the policy documents.", req.Query)
	}

	return Explanation{
		Text:       text,
		TokensUsed: estimateTokens(systemPrompt) + estimateTokens(BuildPrompt(req)) + estimateTokens(text),
	}, nil
}
