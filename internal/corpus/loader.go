// Package corpus turns document references into an indexed set of clauses.
package corpus

import (
	"context"

	"github.com/sells-group/policy-qa/internal/model"
)

// Passage is a clause before it has been assigned an identifier.
type Passage struct {
	Content     string
	Section     string
	Page        *int
	SectionType string
}

// Loader reads one document reference and splits it into passages.
type Loader interface {
	Load(ctx context.Context, ref string) ([]Passage, error)
}

// SampleLoader returns the same five policy clauses for every reference.
// It stands in for real document ingestion in demos and tests.
type SampleLoader struct{}

// Load implements Loader.
func (SampleLoader) Load(_ context.Context, _ string) ([]Passage, error) {
	return []Passage{
		{
			Content:     "Joint replacement surgery is covered under this policy after a waiting period of 24 months from the date of policy commencement.",
			Section:     "Coverage Benefits",
			Page:        model.IntPtr(12),
			SectionType: model.SectionBenefits,
		},
		{
			Content:     "Pre-existing diseases are covered after a continuous coverage period of 36 months. This includes diabetes, hypertension, and joint disorders.",
			Section:     "Pre-existing Conditions",
			Page:        model.IntPtr(15),
			SectionType: model.SectionExclusions,
		},
		{
			Content:     "Grace period for premium payment is thirty (30) days from the due date. Policy remains active during this period.",
			Section:     "Premium Payment",
			Page:        model.IntPtr(8),
			SectionType: model.SectionTerms,
		},
		{
			Content:     "Maternity expenses are covered after 24 months of continuous coverage. Maximum benefit of ₹50,000 per delivery, limited to two deliveries per policy term.",
			Section:     "Maternity Benefits",
			Page:        model.IntPtr(18),
			SectionType: model.SectionBenefits,
		},
		{
			Content:     "No Claim Discount of 5% is applicable on renewal for claim-free years. Maximum cumulative discount is 25% of the base premium.",
			Section:     "No Claim Discount",
			Page:        model.IntPtr(22),
			SectionType: model.SectionBenefits,
		},
	}, nil
}
