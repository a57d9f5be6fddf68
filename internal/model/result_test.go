package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionValid(t *testing.T) {
	t.Parallel()

	for _, d := range []Decision{DecisionApproved, DecisionRejected, DecisionConditional, DecisionPending} {
		assert.True(t, d.Valid(), d)
	}
	assert.False(t, Decision("maybe").Valid())
}

func TestPolicyResultValidate(t *testing.T) {
	t.Parallel()

	valid := func() *PolicyResult {
		return &PolicyResult{
			Decision:      DecisionApproved,
			Amount:        Float64Ptr(150000),
			Confidence:    0.9,
			Justification: []string{"a::1", "a::2", "a::3"},
		}
	}

	require.NoError(t, valid().Validate())

	r := valid()
	r.Decision = DecisionRejected
	assert.Error(t, r.Validate(), "rejected with non-zero amount")

	r.Amount = Float64Ptr(0)
	assert.NoError(t, r.Validate())

	r = valid()
	r.Confidence = 1.2
	assert.Error(t, r.Validate())

	r = valid()
	r.Justification = append(r.Justification, "a::4")
	assert.Error(t, r.Validate())

	r = valid()
	r.Amount = Float64Ptr(-1)
	assert.Error(t, r.Validate())

	r = valid()
	r.Decision = "unknown"
	assert.Error(t, r.Validate())
}

func TestPolicyResultJSON_OmitsAbsentFields(t *testing.T) {
	t.Parallel()

	r := PolicyResult{
		Decision:      DecisionConditional,
		Confidence:    0.85,
		Justification: []string{"a::1"},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "amount")
	assert.NotContains(t, m, "rule")
	assert.NotContains(t, m, "llm_answer")
	assert.Contains(t, m, "processing_time")
	assert.Contains(t, m, "token_usage")
	assert.Len(t, m, 5)
}

func TestParsedQueryHelpers(t *testing.T) {
	t.Parallel()

	p := ParsedQuery{Raw: "x"}
	assert.False(t, p.HasDuration())
	assert.Empty(t, p.ProcedureText())

	proc := "knee replacement"
	p.Procedure = &proc
	p.PolicyDurationMonths = IntPtr(3)
	assert.True(t, p.HasDuration())
	assert.Equal(t, "knee replacement", p.ProcedureText())
}
