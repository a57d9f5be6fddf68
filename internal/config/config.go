package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Corpus     CorpusConfig     `yaml:"corpus" mapstructure:"corpus"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Explain    ExplainConfig    `yaml:"explain" mapstructure:"explain"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama     OllamaConfig     `yaml:"ollama" mapstructure:"ollama"`
	Webhook    WebhookConfig    `yaml:"webhook" mapstructure:"webhook"`
	HackRX     HackRXConfig     `yaml:"hackrx" mapstructure:"hackrx"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                   int    `yaml:"port" mapstructure:"port"`
	Environment            string `yaml:"environment" mapstructure:"environment"`
	CORSOrigin             string `yaml:"cors_origin" mapstructure:"cors_origin"`
	APIToken               string `yaml:"api_token" mapstructure:"api_token"`
	MaxConcurrentQuestions int    `yaml:"max_concurrent_questions" mapstructure:"max_concurrent_questions"`
}

// IsProduction reports whether the server runs with production CORS rules.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the analysis audit log. Driver "none" disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CorpusConfig selects how document references become clauses.
type CorpusConfig struct {
	Loader           string  `yaml:"loader" mapstructure:"loader"`
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MaxDocumentBytes int64   `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
	FetchRatePerSec  float64 `yaml:"fetch_rate_per_sec" mapstructure:"fetch_rate_per_sec"`
	MaxCorpora       int     `yaml:"max_corpora" mapstructure:"max_corpora"`
	LoadConcurrency  int     `yaml:"load_concurrency" mapstructure:"load_concurrency"`
}

// RetrievalConfig configures clause ranking.
type RetrievalConfig struct {
	TopK   int    `yaml:"top_k" mapstructure:"top_k"`
	Scorer string `yaml:"scorer" mapstructure:"scorer"`
}

// RulesConfig configures the deterministic rule stage.
type RulesConfig struct {
	Path            string `yaml:"path" mapstructure:"path"`
	MissingDuration string `yaml:"missing_duration" mapstructure:"missing_duration"`
}

// ExplainConfig configures the generative explanation stage.
type ExplainConfig struct {
	Provider         string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RetryAttempts    int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// Timeout returns the explanation deadline.
func (e ExplainConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OllamaConfig holds settings for a local Ollama server.
type OllamaConfig struct {
	Host       string `yaml:"host" mapstructure:"host"`
	EmbedModel string `yaml:"embed_model" mapstructure:"embed_model"`
	ChatModel  string `yaml:"chat_model" mapstructure:"chat_model"`
}

// WebhookConfig configures outbound event notifications.
type WebhookConfig struct {
	URL         string  `yaml:"url" mapstructure:"url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// HackRXConfig configures the remote submission client.
type HackRXConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// MonitoringConfig configures the background health checker that
// watches the audit log for degraded explanations.
type MonitoringConfig struct {
	Enabled                     bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs           int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours         int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	ExplainFailureRateThreshold float64 `yaml:"explain_failure_rate_threshold" mapstructure:"explain_failure_rate_threshold"`
	TokenBudget                 int     `yaml:"token_budget" mapstructure:"token_budget"`
	WebhookURL                  string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("POLICYQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 10000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.cors_origin", "https://policy-qa-engine.onrender.com")
	v.SetDefault("server.max_concurrent_questions", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "none")
	v.SetDefault("corpus.loader", "sample")
	v.SetDefault("corpus.fetch_timeout_secs", 30)
	v.SetDefault("corpus.max_document_bytes", 20<<20)
	v.SetDefault("corpus.fetch_rate_per_sec", 5.0)
	v.SetDefault("corpus.max_corpora", 64)
	v.SetDefault("corpus.load_concurrency", 4)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.scorer", "keyword")
	v.SetDefault("rules.missing_duration", "reject")
	v.SetDefault("explain.provider", "template")
	v.SetDefault("explain.timeout_secs", 20)
	v.SetDefault("explain.max_tokens", 512)
	v.SetDefault("explain.retry_attempts", 2)
	v.SetDefault("explain.failure_threshold", 5)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("ollama.host", "http://localhost:11434")
	v.SetDefault("ollama.embed_model", "nomic-embed-text")
	v.SetDefault("ollama.chat_model", "llama3.2")
	v.SetDefault("webhook.timeout_secs", 10)
	v.SetDefault("webhook.rate_per_sec", 2.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.explain_failure_rate_threshold", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var (
	storeDrivers     = []string{"none", "sqlite", "postgres"}
	corpusLoaders    = []string{"sample", "http"}
	scorers          = []string{"keyword", "embedding"}
	explainers       = []string{"template", "anthropic", "ollama"}
	durationPolicies = []string{"reject", "defer"}
)

// Validate checks that the settings required by the given command are
// present. Mode is one of "serve", "ask", or "submit".
func (c *Config) Validate(mode string) error {
	var errs []string

	check := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s must be one of %s (got %q)", field, strings.Join(allowed, "|"), value))
	}

	switch mode {
	case "serve", "ask":
		check("store.driver", c.Store.Driver, storeDrivers)
		check("corpus.loader", c.Corpus.Loader, corpusLoaders)
		check("retrieval.scorer", c.Retrieval.Scorer, scorers)
		check("explain.provider", c.Explain.Provider, explainers)
		check("rules.missing_duration", c.Rules.MissingDuration, durationPolicies)

		if c.Corpus.LoadConcurrency < 0 || c.Corpus.MaxCorpora < 0 {
			errs = append(errs, "corpus.max_corpora and corpus.load_concurrency must not be negative")
		}
		if c.Retrieval.TopK <= 0 {
			errs = append(errs, "retrieval.top_k must be positive")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
		if c.Explain.Provider == "anthropic" && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for the anthropic explainer")
		}
		if mode == "serve" && c.Monitoring.Enabled && c.Store.Driver == "none" {
			errs = append(errs, "monitoring.enabled requires a store driver")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535 (got %d)", c.Server.Port))
		}
	case "submit":
		if c.HackRX.BaseURL == "" {
			errs = append(errs, "hackrx.base_url is required")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
