// Package monitoring watches the analysis audit log and raises alerts
// when explanations degrade or token usage runs past budget.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/store"
)

// scanLimit caps the analyses read per collection.
const scanLimit = 10000

// Snapshot holds a point-in-time view of recent analyses.
type Snapshot struct {
	Total           int                    `json:"total"`
	Decisions       map[model.Decision]int `json:"decisions"`
	ExplainFailed   int                    `json:"explain_failed"`
	ExplainFailRate float64                `json:"explain_fail_rate"`
	AvgConfidence   float64                `json:"avg_confidence"`
	AvgProcessingMS float64                `json:"avg_processing_ms"`
	TokensUsed      int                    `json:"tokens_used"`
	LookbackHours   int                    `json:"lookback_hours"`
	CollectedAt     time.Time              `json:"collected_at"`
}

// Lister is the slice of store.Store the collector reads from.
type Lister interface {
	ListAnalyses(ctx context.Context, filter store.AnalysisFilter) ([]pipeline.Analysis, error)
}

// Collector gathers snapshots from the audit log.
type Collector struct {
	store Lister
	now   func() time.Time
}

// NewCollector creates a collector over st.
func NewCollector(st Lister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarizes analyses created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		Decisions:     make(map[model.Decision]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	analyses, err := c.store.ListAnalyses(ctx, store.AnalysisFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list analyses")
	}

	var confidence float64
	var processing int64
	for i := range analyses {
		a := &analyses[i]
		// Newest first, so everything after the first old row is out of range.
		if a.CreatedAt.Before(cutoff) {
			break
		}
		snap.Total++
		snap.Decisions[a.Result.Decision]++
		if a.ExplainFailed() {
			snap.ExplainFailed++
		}
		snap.TokensUsed += a.Result.TokenUsage
		confidence += a.Result.Confidence
		processing += a.Result.ProcessingTime
	}

	if snap.Total > 0 {
		snap.ExplainFailRate = float64(snap.ExplainFailed) / float64(snap.Total)
		snap.AvgConfidence = confidence / float64(snap.Total)
		snap.AvgProcessingMS = float64(processing) / float64(snap.Total)
	}
	return snap, nil
}
