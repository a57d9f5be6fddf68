// Package webhook delivers analysis events to a caller-supplied URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/policy-qa/internal/metrics"
)

// UserAgent identifies webhook requests.
const UserAgent = "Policy-QA-Engine-Webhook/1.0"

// Event names a webhook payload.
type Event string

// Events.
const (
	EventAnalysisComplete      Event = "analysis_complete"
	EventAPISubmissionComplete Event = "api_submission_complete"
	EventError                 Event = "error"
	EventMonitoringAlert       Event = "monitoring_alert"
)

// URL validation errors.
var (
	ErrURLRequired = eris.New("webhook: URL is required")
	ErrInvalidURL  = eris.New("webhook: invalid URL format")
)

// Data is the event body. Empty fields are omitted.
type Data struct {
	Query     string   `json:"query,omitempty"`
	Documents []string `json:"documents,omitempty"`
	Result    any      `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Payload is the JSON document POSTed to the webhook.
type Payload struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// NewPayload stamps an event with the current UTC time.
func NewPayload(event Event, data Data) Payload {
	return Payload{Event: event, Timestamp: time.Now().UTC(), Data: data}
}

// DeliveryError reports a webhook that was reached but refused the event,
// or could not be reached at all (StatusCode 0).
type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook: delivery to %s failed: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook: delivery to %s failed: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ValidateURL checks that raw is an absolute http(s) URL.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, eris.Wrapf(ErrInvalidURL, "%q", raw)
	}
	return u, nil
}

// Options configures a Sender.
type Options struct {
	Timeout    time.Duration
	RatePerSec float64
	Metrics    *metrics.Metrics
}

// Sender posts payloads. Each delivery is attempted once.
type Sender struct {
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewSender creates a Sender.
func NewSender(opts Options) *Sender {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	return &Sender{
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		metrics: opts.Metrics,
	}
}

// Send validates rawURL and posts p to it.
func (s *Sender) Send(ctx context.Context, rawURL string, p Payload) error {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return err
	}
	err = s.send(ctx, u.String(), p)
	s.metrics.RecordWebhook(string(p.Event), err)
	if err != nil {
		zap.L().Warn("webhook: delivery failed",
			zap.String("event", string(p.Event)),
			zap.String("host", u.Host),
			zap.Error(err),
		)
		return err
	}
	zap.L().Info("webhook: delivered",
		zap.String("event", string(p.Event)),
		zap.String("host", u.Host),
	)
	return nil
}

func (s *Sender) send(ctx context.Context, target string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "webhook: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{URL: target, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("status %s", resp.Status),
		}
	}
	return nil
}
