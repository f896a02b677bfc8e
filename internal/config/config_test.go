package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("pipeline.max_claims", 3)
	v.Set("server.addr", ":9999")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.MaxClaims != 3 {
		t.Errorf("expected max_claims 3, got %d", cfg.Pipeline.MaxClaims)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected addr :9999, got %s", cfg.Server.Addr)
	}
	// Untouched defaults survive.
	if cfg.Pipeline.MaxEvidence != 5 {
		t.Errorf("expected default max_evidence 5, got %d", cfg.Pipeline.MaxEvidence)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max claims", func(c *Config) { c.Pipeline.MaxClaims = 0 }},
		{"zero max evidence", func(c *Config) { c.Pipeline.MaxEvidence = 0 }},
		{"zero fanout", func(c *Config) { c.Pipeline.RetrievalFanout = 0 }},
		{"zero timeout", func(c *Config) { c.Pipeline.CheckTimeout = 0 }},
		{"visibility below timeout", func(c *Config) { c.Pipeline.QueueVisibility = c.Pipeline.CheckTimeout / 2 }},
		{"inverted text bounds", func(c *Config) { c.Ingest.MinTextChars = 100; c.Ingest.MaxTextChars = 50 }},
		{"threshold above one", func(c *Config) { c.NLI.ConfidenceThreshold = 1.5 }},
		{"no providers", func(c *Config) { c.Search.Providers = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
