// Package anthropic sends single-turn, grounded prompts to the Anthropic
// Messages API and reports the answer text with its token usage.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SystemCacheTTL is how long a cached system prompt stays warm.
const SystemCacheTTL = "5m"

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// Prompt is one question to the model. System holds the fixed
// instructions; User carries the clauses and the question.
type Prompt struct {
	Model       string
	MaxTokens   int64
	System      string
	CacheSystem bool
	User        string
	Temperature *float64
}

// Completion is the model's answer.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Total returns every token billed for the call.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// {input, output} USD per million tokens.
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost computes an estimated cost in USD. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) * pricing[0]
	out := float64(u.OutputTokens) * pricing[1]
	cacheWrite := float64(u.CacheCreationInputTokens) * pricing[0] * 1.25
	cacheRead := float64(u.CacheReadInputTokens) * pricing[0] * 0.1
	return (in + out + cacheWrite + cacheRead) / 1e6
}

// LogUsage logs token usage and estimated cost for one completion.
func (c *Completion) LogUsage(phase string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", c.Model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", c.Usage.InputTokens),
		zap.Int64("output_tokens", c.Usage.OutputTokens),
		zap.Int64("cache_read_tokens", c.Usage.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", c.Usage.EstimateCost(c.Model)),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the official SDK. Extra options are
// passed through, e.g. option.WithBaseURL for a proxy. SDK retries are
// disabled; callers wrap Complete in their own retry policy.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	msg, err := c.client.Messages.New(ctx, messageParams(p))
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return completionFrom(msg), nil
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func messageParams(p Prompt) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.Model),
		MaxTokens: p.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
	}
	if p.System != "" {
		block := sdk.TextBlockParam{Text: p.System}
		if p.CacheSystem {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL(SystemCacheTTL)
			block.CacheControl = cc
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(*p.Temperature)
	}
	return params
}

// completionFrom joins the non-empty text blocks of msg.
func completionFrom(msg *sdk.Message) *Completion {
	var parts []string
	for _, b := range msg.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       strings.Join(parts, "\n"),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}
