package explain

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/resilience"
	"github.com/sells-group/policy-qa/pkg/anthropic"
)

// AnthropicOptions tunes an AnthropicExplainer.
type AnthropicOptions struct {
	Model            string
	MaxTokens        int64
	RetryAttempts    int
	FailureThreshold int
	ResetTimeout     time.Duration
}

// AnthropicExplainer asks a Claude model to explain the verdict from the
// retrieved clauses. Calls are retried on transient failures and guarded
// by a circuit breaker shared by all requests.
type AnthropicExplainer struct {
	client  anthropic.Client
	opts    AnthropicOptions
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewAnthropicExplainer creates an explainer backed by client.
func NewAnthropicExplainer(client anthropic.Client, opts AnthropicOptions) *AnthropicExplainer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 2
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.RetryAttempts
	retry.OnRetry = resilience.LogRetry("anthropic", "explain")

	return &AnthropicExplainer{
		client: client,
		opts:   opts,
		retry:  retry,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "anthropic",
			FailureThreshold: opts.FailureThreshold,
			ResetTimeout:     opts.ResetTimeout,
		}),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (a *AnthropicExplainer) Breaker() *resilience.Breaker {
	return a.breaker
}

// Explain implements Explainer.
func (a *AnthropicExplainer) Explain(ctx context.Context, req Request) (Explanation, error) {
	temp := 0.1
	prompt := anthropic.Prompt{
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		System:      systemPrompt,
		CacheSystem: true,
		User:        BuildPrompt(req),
		Temperature: &temp,
	}

	return resilience.Call(ctx, a.breaker, func(ctx context.Context) (Explanation, error) {
		return resilience.DoVal(ctx, a.retry, func(ctx context.Context) (Explanation, error) {
			resp, err := a.client.Complete(ctx, prompt)
			if err != nil {
				if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
					return Explanation{}, resilience.NewTransientError(err, code)
				}
				return Explanation{}, eris.Wrap(err, "explain: anthropic")
			}
			if resp.Text == "" {
				return Explanation{}, eris.Errorf("explain: anthropic returned no text (stop reason %q)", resp.StopReason)
			}
			resp.LogUsage("explain")
			return Explanation{Text: resp.Text, TokensUsed: int(resp.Usage.Total())}, nil
		})
	})
}
