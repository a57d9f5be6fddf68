package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/policy-qa/internal/config"
	"github.com/sells-group/policy-qa/internal/corpus"
	"github.com/sells-group/policy-qa/internal/embedding"
	"github.com/sells-group/policy-qa/internal/explain"
	"github.com/sells-group/policy-qa/internal/metrics"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/resilience"
	"github.com/sells-group/policy-qa/internal/retriever"
	"github.com/sells-group/policy-qa/internal/rules"
	"github.com/sells-group/policy-qa/internal/store"
	"github.com/sells-group/policy-qa/internal/webhook"
	anthropicpkg "github.com/sells-group/policy-qa/pkg/anthropic"
)

// appEnv holds everything the serve and ask commands need.
type appEnv struct {
	Store    store.Store // nil when store.driver is "none"
	Analyzer *pipeline.Analyzer
	Index    *corpus.Index
	Metrics  *metrics.Metrics
	Webhooks *webhook.Sender
	// Breaker guards the model-backed explainer; nil for local explainers.
	Breaker *resilience.Breaker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates cfg for mode and wires the pipeline. Callers should
// defer env.Close().
func initApp(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	m := metrics.New()

	table, err := buildRules(c.Rules)
	if err != nil {
		return nil, err
	}
	scorer, err := buildScorer(c)
	if err != nil {
		return nil, err
	}
	explainer, err := buildExplainer(c)
	if err != nil {
		return nil, err
	}

	index := corpus.NewIndex(buildLoader(c.Corpus),
		corpus.WithMaxCorpora(c.Corpus.MaxCorpora),
		corpus.WithLoadConcurrency(c.Corpus.LoadConcurrency),
		corpus.WithOnBuild(func(built *corpus.Corpus, elapsed time.Duration) {
			m.RecordCorpusBuild(built.Len(), elapsed)
		}),
	)

	analyzer := pipeline.New(index,
		pipeline.WithRetriever(retriever.New(scorer)),
		pipeline.WithRules(rules.NewEngine(table.Rules, rules.MissingDuration(c.Rules.MissingDuration))),
		pipeline.WithExplainer(explain.WithTimeout(explainer, c.Explain.Timeout())),
		pipeline.WithTopK(c.Retrieval.TopK),
		pipeline.WithMetrics(m),
	)

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	zap.L().Info("pipeline initialized",
		zap.String("loader", c.Corpus.Loader),
		zap.String("scorer", c.Retrieval.Scorer),
		zap.String("explainer", c.Explain.Provider),
		zap.String("store", c.Store.Driver),
		zap.Int("rules", len(table.Rules)),
	)

	var breaker *resilience.Breaker
	if ae, ok := explainer.(*explain.AnthropicExplainer); ok {
		breaker = ae.Breaker()
	}

	return &appEnv{
		Breaker:  breaker,
		Store:    st,
		Analyzer: analyzer,
		Index:    index,
		Metrics:  m,
		Webhooks: webhook.NewSender(webhook.Options{
			Timeout:    time.Duration(c.Webhook.TimeoutSecs) * time.Second,
			RatePerSec: c.Webhook.RatePerSec,
			Metrics:    m,
		}),
	}, nil
}

// initStore opens the configured audit store. It returns nil, nil when the
// store is disabled.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "policy-qa.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func buildLoader(cc config.CorpusConfig) corpus.Loader {
	if cc.Loader != "http" {
		return corpus.SampleLoader{}
	}
	return corpus.NewHTTPLoader(corpus.HTTPOptions{
		Timeout:          time.Duration(cc.FetchTimeoutSecs) * time.Second,
		MaxDocumentBytes: cc.MaxDocumentBytes,
		RatePerHost:      rate.Limit(cc.FetchRatePerSec),
		Retry:            resilience.DefaultRetryConfig(),
	})
}

// buildRules loads the rule table from rules.path, or the built-in table
// when no path is set.
func buildRules(rc config.RulesConfig) (rules.Table, error) {
	if rc.Path == "" {
		return rules.DefaultTable(), nil
	}
	t, err := rules.LoadTable(rc.Path)
	if err != nil {
		return rules.Table{}, eris.Wrap(err, "load rule table")
	}
	return t, nil
}

func buildScorer(c *config.Config) (retriever.Scorer, error) {
	if c.Retrieval.Scorer != "embedding" {
		return retriever.KeywordScorer{}, nil
	}
	e, err := embedding.NewOllamaEmbedder(c.Ollama.Host, c.Ollama.EmbedModel)
	if err != nil {
		return nil, eris.Wrap(err, "init embedder")
	}
	return retriever.NewEmbeddingScorer(e), nil
}

func buildExplainer(c *config.Config) (explain.Explainer, error) {
	switch c.Explain.Provider {
	case "anthropic":
		return explain.NewAnthropicExplainer(anthropicpkg.NewClient(c.Anthropic.Key), explain.AnthropicOptions{
			Model:            c.Anthropic.Model,
			MaxTokens:        c.Explain.MaxTokens,
			RetryAttempts:    c.Explain.RetryAttempts,
			FailureThreshold: c.Explain.FailureThreshold,
		}), nil
	case "ollama":
		o, err := explain.NewOllamaExplainer(c.Ollama.Host, c.Ollama.ChatModel)
		if err != nil {
			return nil, eris.Wrap(err, "init ollama explainer")
		}
		return o, nil
	default:
		return explain.TemplateExplainer{}, nil
	}
}
