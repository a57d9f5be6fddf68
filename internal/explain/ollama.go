package explain

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"
)

// OllamaExplainer generates explanations with a local Ollama model.
type OllamaExplainer struct {
	client *api.Client
	model  string
}

// NewOllamaExplainer creates an explainer for host and model.
func NewOllamaExplainer(host, model string) (*OllamaExplainer, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, eris.Wrapf(err, "explain: parse ollama host %q", host)
	}
	if model == "" {
		return nil, eris.New("explain: ollama model is required")
	}
	return &OllamaExplainer{client: api.NewClient(u, http.DefaultClient), model: model}, nil
}

// Explain implements Explainer.
func (o *OllamaExplainer) Explain(ctx context.Context, req Request) (Explanation, error) {
	gen := api.GenerateRequest{
		Model:  o.model,
		System: systemPrompt,
		Prompt: BuildPrompt(req),
		Options: map[string]any{
			"temperature": 0.1,
			"num_predict": 512,
		},
	}

	var (
		b      strings.Builder
		tokens int
	)
	err := o.client.Generate(ctx, &gen, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		if resp.Done {
			tokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return Explanation{}, eris.Wrap(err, "explain: ollama generate")
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return Explanation{}, eris.New("explain: ollama returned no text")
	}
	return Explanation{Text: text, TokensUsed: tokens}, nil
}
