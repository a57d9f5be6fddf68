package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-qa/internal/config"
	"github.com/sells-group/policy-qa/internal/corpus"
	"github.com/sells-group/policy-qa/internal/explain"
	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/resilience"
	"github.com/sells-group/policy-qa/internal/retriever"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:    config.ServerConfig{Port: 10000, Environment: "development", MaxConcurrentQuestions: 2},
		Log:       config.LogConfig{Level: "info", Format: "json"},
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "app.db")},
		Corpus:    config.CorpusConfig{Loader: "sample"},
		Retrieval: config.RetrievalConfig{TopK: 5, Scorer: "keyword"},
		Rules:     config.RulesConfig{MissingDuration: "reject"},
		Explain:   config.ExplainConfig{Provider: "template", TimeoutSecs: 5},
		Webhook:   config.WebhookConfig{TimeoutSecs: 2, RatePerSec: 10},
	}
}

func TestInitApp_AnalyzesAndRecordsBuild(t *testing.T) {
	c := testConfig(t)
	env, err := initApp(context.Background(), c, "ask")
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Store)
	a, err := env.Analyzer.Analyze(context.Background(),
		"46-year-old male, knee replacement surgery in Pune, policy started 26 months ago",
		[]string{"policy.pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, a.Result.Decision)
	assert.Equal(t, int64(1), env.Index.Builds())

	require.NoError(t, env.Store.SaveAnalysis(context.Background(), a))
	got, err := env.Store.GetAnalysis(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Result.Decision, got.Result.Decision)
}

func TestInitApp_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Explain.Provider = "gpt"

	_, err := initApp(context.Background(), c, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explain.provider")
}

func TestInitApp_DeferPolicy(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "none"
	c.Rules.MissingDuration = "defer"

	env, err := initApp(context.Background(), c, "ask")
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Store)

	a, err := env.Analyzer.Analyze(context.Background(), "knee replacement surgery", []string{"policy.pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionConditional, a.Result.Decision)
	assert.Contains(t, a.Result.Rule, "manual review")
}

func TestInitStore(t *testing.T) {
	st, err := initStore(context.Background(), config.StoreConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = initStore(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestBuildLoader(t *testing.T) {
	assert.IsType(t, corpus.SampleLoader{}, buildLoader(config.CorpusConfig{Loader: "sample"}))
	assert.IsType(t, &corpus.HTTPLoader{}, buildLoader(config.CorpusConfig{Loader: "http", FetchTimeoutSecs: 5}))
}

func TestBuildScorer(t *testing.T) {
	c := testConfig(t)
	s, err := buildScorer(c)
	require.NoError(t, err)
	assert.IsType(t, retriever.KeywordScorer{}, s)

	c.Retrieval.Scorer = "embedding"
	c.Ollama = config.OllamaConfig{Host: "http://localhost:11434", EmbedModel: "nomic-embed-text"}
	s, err = buildScorer(c)
	require.NoError(t, err)
	assert.IsType(t, &retriever.EmbeddingScorer{}, s)
}

func TestBuildExplainer(t *testing.T) {
	c := testConfig(t)
	e, err := buildExplainer(c)
	require.NoError(t, err)
	assert.IsType(t, explain.TemplateExplainer{}, e)

	c.Explain.Provider = "anthropic"
	c.Anthropic = config.AnthropicConfig{Key: "test-key", Model: "claude-haiku-4-5-20251001"}
	e, err = buildExplainer(c)
	require.NoError(t, err)
	assert.IsType(t, &explain.AnthropicExplainer{}, e)

	c.Explain.Provider = "ollama"
	c.Ollama = config.OllamaConfig{Host: "http://localhost:11434", ChatModel: "llama3.2"}
	e, err = buildExplainer(c)
	require.NoError(t, err)
	assert.IsType(t, &explain.OllamaExplainer{}, e)
}

func TestBuildRules(t *testing.T) {
	table, err := buildRules(config.RulesConfig{})
	require.NoError(t, err)
	assert.Len(t, table.Rules, 2)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: cataract
    match:
      procedure_any: [cataract]
    waiting_months: 12
    approve_amount: 40000
    reject_text: Cataract surgery requires 12 months waiting period
    approve_text: Cataract surgery covered after waiting period
`), 0o600))
	table, err = buildRules(config.RulesConfig{Path: path})
	require.NoError(t, err)
	require.Len(t, table.Rules, 1)
	assert.Equal(t, "cataract", table.Rules[0].Name)

	_, err = buildRules(config.RulesConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestBuildHandler_Health(t *testing.T) {
	c := testConfig(t)
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })

	env, err := initApp(context.Background(), c, "serve")
	require.NoError(t, err)
	defer env.Close()

	h := buildHandler(env, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "policyqa_http_requests_total"))
}

func TestBuildChecker(t *testing.T) {
	c := testConfig(t)
	env, err := initApp(context.Background(), c, "serve")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, buildChecker(env, config.MonitoringConfig{}, ""))
	assert.Nil(t, buildChecker(&appEnv{}, config.MonitoringConfig{Enabled: true}, ""))

	checker := buildChecker(env, config.MonitoringConfig{
		Enabled:                     true,
		LookbackWindowHours:         24,
		ExplainFailureRateThreshold: 0.25,
	}, "")
	require.NotNil(t, checker)
	assert.Zero(t, checker.Check(context.Background()))
}

func TestBuildHandler_HealthComponents(t *testing.T) {
	c := testConfig(t)
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })

	env, err := initApp(context.Background(), c, "serve")
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Breaker, "template explainer has no circuit")

	env.Breaker = resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	checker := buildChecker(env, config.MonitoringConfig{
		Enabled:                     true,
		LookbackWindowHours:         24,
		ExplainFailureRateThreshold: 0.25,
	}, "")
	require.NotNil(t, checker)

	h := buildHandler(env, checker)
	health := func() map[string]any {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		return body
	}

	body := health()
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "closed", components["explain_breaker"].(map[string]any)["detail"])
	assert.Equal(t, "pending", components["monitoring"].(map[string]any)["detail"])

	checker.Check(context.Background())
	_, _ = resilience.Call(context.Background(), env.Breaker, func(context.Context) (int, error) {
		return 0, errors.New("upstream down")
	})

	body = health()
	assert.Equal(t, "degraded", body["status"])
	components = body["components"].(map[string]any)
	breaker := components["explain_breaker"].(map[string]any)
	assert.Equal(t, "open", breaker["detail"])
	assert.Equal(t, "degraded", breaker["status"])
	snap := components["monitoring"].(map[string]any)["detail"].(map[string]any)
	assert.Contains(t, snap, "total")
}

func TestInitApp_CorpusLimits(t *testing.T) {
	c := testConfig(t)
	c.Corpus.MaxCorpora = 1
	c.Corpus.LoadConcurrency = 1
	env, err := initApp(context.Background(), c, "ask")
	require.NoError(t, err)
	defer env.Close()

	ctx := context.Background()
	for _, docs := range [][]string{{"a.pdf"}, {"b.pdf"}, {"a.pdf"}} {
		_, err := env.Index.Ensure(ctx, docs)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), env.Index.Builds(), "one cached set evicts the other")
}
