package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/config"
	"github.com/sells-group/policy-qa/internal/webhook"
)

// minSample is the number of analyses needed before a rate alert fires.
const minSample = 5

// AlertType identifies the kind of alert.
type AlertType string

// Alert types.
const (
	AlertExplainFailureRate AlertType = "explain_failure_rate"
	AlertTokenBudget        AlertType = "token_budget"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers webhook payloads. *webhook.Sender satisfies it.
type Notifier interface {
	Send(ctx context.Context, rawURL string, p webhook.Payload) error
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg      config.MonitoringConfig
	notifier Notifier
}

// NewAlerter creates a new Alerter. A nil notifier only logs.
func NewAlerter(cfg config.MonitoringConfig, n Notifier) *Alerter {
	return &Alerter{cfg: cfg, notifier: n}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	threshold := a.cfg.ExplainFailureRateThreshold
	if threshold > 0 && snap.Total >= minSample && snap.ExplainFailRate > threshold {
		alerts = append(alerts, Alert{
			Type:     AlertExplainFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Explanation failure rate %.1f%% exceeds threshold %.1f%% (%d of %d analyses in last %dh)",
				snap.ExplainFailRate*100, threshold*100,
				snap.ExplainFailed, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ExplainFailRate,
				"threshold":    threshold,
				"failed":       snap.ExplainFailed,
				"total":        snap.Total,
			},
			Timestamp: now,
		})
	}

	if a.cfg.TokenBudget > 0 && snap.TokensUsed > a.cfg.TokenBudget {
		alerts = append(alerts, Alert{
			Type:     AlertTokenBudget,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Token usage %d exceeds budget %d in last %dh",
				snap.TokensUsed, a.cfg.TokenBudget, snap.LookbackHours,
			),
			Details: map[string]any{
				"tokens_used": snap.TokensUsed,
				"budget":      a.cfg.TokenBudget,
				"total":       snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.notifier == nil || a.cfg.WebhookURL == "" || len(alerts) == 0 {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert",
				zap.String("type", string(alert.Type)),
				zap.String("message", alert.Message),
			)
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		p := webhook.NewPayload(webhook.EventMonitoringAlert, webhook.Data{Result: alert})
		if err := a.notifier.Send(ctx, a.cfg.WebhookURL, p); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}
