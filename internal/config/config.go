// Package config defines the veridex configuration surface and its
// defaults. Values are resolved through viper with the hierarchy
// flags > VERIDEX_* environment variables > config file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete veridex configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	NLI       NLIConfig       `yaml:"nli" mapstructure:"nli"`
	Admission AdmissionConfig `yaml:"admission" mapstructure:"admission"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// StoreConfig configures SQLite persistence. The queue shares the same
// database file so one claim transaction covers both.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig bounds a single check's execution.
type PipelineConfig struct {
	CheckTimeout     time.Duration `yaml:"check_timeout" mapstructure:"check_timeout"`
	Workers          int           `yaml:"workers" mapstructure:"workers"`
	MaxClaims        int           `yaml:"max_claims" mapstructure:"max_claims"`
	MaxEvidence      int           `yaml:"max_evidence" mapstructure:"max_evidence"`
	RetrievalFanout  int           `yaml:"retrieval_fanout" mapstructure:"retrieval_fanout"`
	QueueVisibility  time.Duration `yaml:"queue_visibility" mapstructure:"queue_visibility"`
	QueuePollEvery   time.Duration `yaml:"queue_poll_every" mapstructure:"queue_poll_every"`
	QueueMaxAttempts int           `yaml:"queue_max_attempts" mapstructure:"queue_max_attempts"`
}

// IngestConfig configures input normalization.
type IngestConfig struct {
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MinTextChars int           `yaml:"min_text_chars" mapstructure:"min_text_chars"`
	MaxTextChars int           `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	RespectRobots bool         `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// ProviderConfig describes one search backend. Order in the Providers
// slice is the failover order; it is injected at construction, never read
// from ambient globals, so tests can substitute deterministic fakes.
type ProviderConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Kind        string        `yaml:"kind" mapstructure:"kind"` // brave | serpapi | template
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	URLTemplate string        `yaml:"url_template" mapstructure:"url_template"` // kind=template: {query} placeholder
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// SearchConfig configures the evidence provider adapter.
type SearchConfig struct {
	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers"`
	CacheTTL  time.Duration    `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// LLMConfig configures the extraction and judgment models.
type LLMConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	ExtractionModel  string  `yaml:"extraction_model" mapstructure:"extraction_model"`
	JudgeModel       string  `yaml:"judge_model" mapstructure:"judge_model"`
	OCRModel         string  `yaml:"ocr_model" mapstructure:"ocr_model"`
	JudgeTemperature float32 `yaml:"judge_temperature" mapstructure:"judge_temperature"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// NLIConfig configures the entailment model.
type NLIConfig struct {
	BaseURL             string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey              string        `yaml:"api_key" mapstructure:"api_key"`
	Model               string        `yaml:"model" mapstructure:"model"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AdmissionConfig configures the external credit gate. An empty URL means
// standalone mode: every submission is admitted.
type AdmissionConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8090"},
		Store:  StoreConfig{Path: "data/veridex.db"},
		Pipeline: PipelineConfig{
			CheckTimeout:     180 * time.Second,
			Workers:          4,
			MaxClaims:        12,
			MaxEvidence:      5,
			RetrievalFanout:  5,
			QueueVisibility:  240 * time.Second,
			QueuePollEvery:   500 * time.Millisecond,
			QueueMaxAttempts: 2,
		},
		Ingest: IngestConfig{
			UserAgent:     "Veridex/0.1 (+https://github.com/veridexlabs/veridex)",
			FetchTimeout:  15 * time.Second,
			MaxBodyBytes:  2_000_000,
			MinTextChars:  20,
			MaxTextChars:  50_000,
			RespectRobots: true,
		},
		Search: SearchConfig{
			Providers: []ProviderConfig{
				{Name: "brave", Kind: "brave", Timeout: 5 * time.Second, RateLimit: 1},
				{Name: "serpapi", Kind: "serpapi", Timeout: 5 * time.Second, RateLimit: 1},
			},
			CacheTTL: 10 * time.Minute,
		},
		LLM: LLMConfig{
			ExtractionModel:  "gpt-4o-mini",
			JudgeModel:       "gpt-4o-mini",
			OCRModel:         "gpt-4o-mini",
			JudgeTemperature: 0.2,
			MaxTokens:        1000,
			Timeout:          30 * time.Second,
		},
		NLI: NLIConfig{
			Model:               "nli-deberta-v3",
			ConfidenceThreshold: 0.55,
			Timeout:             10 * time.Second,
		},
		Admission: AdmissionConfig{Timeout: 5 * time.Second},
	}
}

// Load resolves the configuration from viper on top of the defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.Pipeline.MaxClaims <= 0 {
		return fmt.Errorf("pipeline.max_claims must be positive, got %d", c.Pipeline.MaxClaims)
	}
	if c.Pipeline.MaxEvidence <= 0 {
		return fmt.Errorf("pipeline.max_evidence must be positive, got %d", c.Pipeline.MaxEvidence)
	}
	if c.Pipeline.RetrievalFanout <= 0 {
		return fmt.Errorf("pipeline.retrieval_fanout must be positive, got %d", c.Pipeline.RetrievalFanout)
	}
	if c.Pipeline.CheckTimeout <= 0 {
		return fmt.Errorf("pipeline.check_timeout must be positive, got %v", c.Pipeline.CheckTimeout)
	}
	if c.Pipeline.QueueVisibility <= c.Pipeline.CheckTimeout {
		return fmt.Errorf("pipeline.queue_visibility (%v) must exceed check_timeout (%v) or a running check gets redelivered",
			c.Pipeline.QueueVisibility, c.Pipeline.CheckTimeout)
	}
	if c.Ingest.MinTextChars >= c.Ingest.MaxTextChars {
		return fmt.Errorf("ingest.min_text_chars (%d) must be below max_text_chars (%d)",
			c.Ingest.MinTextChars, c.Ingest.MaxTextChars)
	}
	if c.NLI.ConfidenceThreshold < 0 || c.NLI.ConfidenceThreshold > 1 {
		return fmt.Errorf("nli.confidence_threshold must be in [0,1], got %v", c.NLI.ConfidenceThreshold)
	}
	if len(c.Search.Providers) == 0 {
		return fmt.Errorf("search.providers must list at least one provider")
	}
	return nil
}
