package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-qa/internal/config"
	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
)

func TestChecker_Check(t *testing.T) {
	var analyses []pipeline.Analysis
	for i := 0; i < 6; i++ {
		analyses = append(analyses, analysisAt(time.Duration(i)*time.Minute, model.DecisionRejected, 0, i%2 == 0))
	}
	cfg := config.MonitoringConfig{LookbackWindowHours: 24, ExplainFailureRateThreshold: 0.25}
	checker := NewChecker(newTestCollector(&stubLister{analyses: analyses}), NewAlerter(cfg, nil), cfg)

	assert.Nil(t, checker.Last())
	assert.Equal(t, 1, checker.Check(context.Background()))
	require.NotNil(t, checker.Last())
	assert.Equal(t, 6, checker.Last().Total)
	assert.Equal(t, 3, checker.Last().ExplainFailed)
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&stubLister{err: errors.New("boom")}), NewAlerter(cfg, nil), cfg)

	assert.Zero(t, checker.Check(context.Background()))
	assert.Nil(t, checker.Last())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&stubLister{}), NewAlerter(cfg, nil), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return checker.Last() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(newTestCollector(&stubLister{}), NewAlerter(config.MonitoringConfig{}, nil), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, checker.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
	assert.Nil(t, checker.Last())
}
