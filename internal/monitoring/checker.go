package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates the audit log on a fixed interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger

	mu   sync.Mutex
	last *Snapshot
}

// NewChecker creates a Checker. A non-positive check interval means five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)
	defer c.log.Info("monitoring: checker stopped")

	if ctx.Err() != nil {
		return
	}
	c.Check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and sends the alerts it triggers. It returns
// the number of alerts triggered.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: collect failed", zap.Error(err))
		return 0
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: healthy",
			zap.Int("analyses", snap.Total),
			zap.Float64("explain_fail_rate", snap.ExplainFailRate),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("monitoring: alerts raised",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
	)
	return len(alerts)
}

// Last returns the most recent snapshot, or nil before the first check.
func (c *Checker) Last() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
