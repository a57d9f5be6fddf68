package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/store"
)

type stubLister struct {
	analyses []pipeline.Analysis
	err      error
	filter   store.AnalysisFilter
}

func (s *stubLister) ListAnalyses(_ context.Context, f store.AnalysisFilter) ([]pipeline.Analysis, error) {
	s.filter = f
	return s.analyses, s.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func analysisAt(age time.Duration, d model.Decision, tokens int, failed bool) pipeline.Analysis {
	a := pipeline.Analysis{
		ID:        age.String(),
		CreatedAt: fixedNow.Add(-age),
		Result: model.PolicyResult{
			Decision:       d,
			Confidence:     0.9,
			TokenUsage:     tokens,
			ProcessingTime: 100,
		},
	}
	if failed {
		a.Warnings = []string{"explanation unavailable: timeout"}
	}
	return a
}

func newTestCollector(l Lister) *Collector {
	c := NewCollector(l)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	st := &stubLister{analyses: []pipeline.Analysis{
		analysisAt(time.Minute, model.DecisionApproved, 1000, false),
		analysisAt(time.Hour, model.DecisionRejected, 0, true),
		analysisAt(2*time.Hour, model.DecisionConditional, 2000, false),
		analysisAt(3*time.Hour, model.DecisionRejected, 0, true),
		// Outside the window.
		analysisAt(48*time.Hour, model.DecisionApproved, 5000, true),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, scanLimit, st.filter.Limit)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 2, snap.ExplainFailed)
	assert.InDelta(t, 0.5, snap.ExplainFailRate, 0.0001)
	assert.Equal(t, 3000, snap.TokensUsed)
	assert.InDelta(t, 0.9, snap.AvgConfidence, 0.0001)
	assert.InDelta(t, 100, snap.AvgProcessingMS, 0.0001)
	assert.Equal(t, 2, snap.Decisions[model.DecisionRejected])
	assert.Equal(t, 1, snap.Decisions[model.DecisionApproved])
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&stubLister{}).Collect(context.Background(), 1)
	require.NoError(t, err)

	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.ExplainFailRate)
	assert.Zero(t, snap.AvgConfidence)
}

func TestCollector_StoreError(t *testing.T) {
	_, err := newTestCollector(&stubLister{err: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list analyses")
}
