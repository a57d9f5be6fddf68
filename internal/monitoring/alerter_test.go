package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-qa/internal/config"
	"github.com/sells-group/policy-qa/internal/webhook"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		ExplainFailureRateThreshold: 0.25,
		TokenBudget:                 100000,
	}, nil)

	alerts := a.Evaluate(&Snapshot{
		Total:           20,
		ExplainFailed:   2,
		ExplainFailRate: 0.1,
		TokensUsed:      40000,
		LookbackHours:   24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ExplainFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExplainFailureRateThreshold: 0.25}, nil)

	alerts := a.Evaluate(&Snapshot{
		Total:           10,
		ExplainFailed:   4,
		ExplainFailRate: 0.4,
		LookbackHours:   24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertExplainFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "4 of 10")
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ExplainFailureRateThreshold: 0.25}, nil)

	alerts := a.Evaluate(&Snapshot{Total: 2, ExplainFailed: 2, ExplainFailRate: 1})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_TokenBudget(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{TokenBudget: 5000}, nil)

	alerts := a.Evaluate(&Snapshot{Total: 3, TokensUsed: 9000, LookbackHours: 6})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTokenBudget, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "9000 exceeds budget 5000")
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var got webhook.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		assert.Equal(t, webhook.UserAgent, r.Header.Get("User-Agent"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL}, webhook.NewSender(webhook.Options{RatePerSec: 100}))
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertTokenBudget, Severity: "medium", Message: "over"}})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, webhook.EventMonitoringAlert, got.Event)
	result, ok := got.Data.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "token_budget", result["type"])
}

func TestAlerter_SendAlerts_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL}, webhook.NewSender(webhook.Options{RatePerSec: 100}))
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertTokenBudget}, {Type: AlertExplainFailureRate}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, webhook.NewSender(webhook.Options{}))
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertTokenBudget}}))
}
