// Package hackrx provides a client for the HackRX submission API.
package hackrx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/resilience"
)

// Request is the body of POST /hackrx/run.
type Request struct {
	Documents []string `json:"documents"`
	Questions []string `json:"questions"`
}

// Answer is one answered question, in the order it was asked.
type Answer struct {
	Question         string  `json:"question"`
	Answer           string  `json:"answer"`
	Decision         string  `json:"decision,omitempty"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	// Error is set when this question could not be answered.
	Error            string  `json:"error,omitempty"`
}

// Data wraps the answers.
type Data struct {
	Answers []Answer `json:"answers"`
}

// Response is the envelope returned by the run endpoint.
type Response struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// StatusError is returned for a non-2xx response that was not retried or
// kept failing after retries.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hackrx: API error: %d", e.StatusCode)
}

// Client submits documents and questions for evaluation.
type Client interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a client for baseURL (for example
// "https://api.example.com/api/v1"). An empty token sends no Authorization
// header.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
		retry:   resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.LogRetry("hackrx", "run")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Run(ctx context.Context, req Request) (*Response, error) {
	if len(req.Documents) == 0 || len(req.Questions) == 0 {
		return nil, eris.New("hackrx: documents and questions are required")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "hackrx: marshal request")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return c.post(ctx, payload)
	})
}

func (c *httpClient) post(ctx context.Context, payload []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hackrx/run", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "hackrx: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "hackrx: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, eris.Wrap(err, "hackrx: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(se, resp.StatusCode)
		}
		return nil, se
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "hackrx: decode response")
	}
	return &out, nil
}
