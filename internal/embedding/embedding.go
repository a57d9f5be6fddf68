// Package embedding produces dense vectors for clause and query text.
package embedding

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-qa/internal/resilience"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OllamaEmbedder calls the embeddings endpoint of an Ollama server.
type OllamaEmbedder struct {
	client  *api.Client
	model   string
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewOllamaEmbedder creates an embedder for the given host and model.
func NewOllamaEmbedder(host, model string) (*OllamaEmbedder, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, eris.Wrapf(err, "embedding: parse ollama host %q", host)
	}
	if model == "" {
		return nil, eris.New("embedding: model is required")
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.LogRetry("ollama", "embeddings")
	return &OllamaEmbedder{
		client:  api.NewClient(u, http.DefaultClient),
		model:   model,
		timeout: 30 * time.Second,
		retry:   retry,
	}, nil
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]float64, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
			Model:  e.model,
			Prompt: text,
		})
		if err != nil {
			var se api.StatusError
			if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
				return nil, resilience.NewTransientError(eris.Wrap(err, "embedding: ollama"), se.StatusCode)
			}
			return nil, eris.Wrap(err, "embedding: ollama")
		}
		if len(resp.Embedding) == 0 {
			return nil, eris.New("embedding: ollama returned an empty vector")
		}
		return resp.Embedding, nil
	})
}

// Cached memoizes vectors by text. Clause text repeats across queries
// against the same corpus, so each clause is embedded once per process.
type Cached struct {
	inner Embedder

	mu      sync.RWMutex
	vectors map[string][]float64
}

// NewCached wraps inner with an unbounded in-memory cache.
func NewCached(inner Embedder) *Cached {
	return &Cached{inner: inner, vectors: make(map[string][]float64)}
}

// Embed implements Embedder.
func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	c.mu.RLock()
	v, ok := c.vectors[text]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.vectors[text] = v
	c.mu.Unlock()
	return v, nil
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either has zero magnitude.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
