package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8100" {
		t.Errorf("expected :8100, got %s", cfg.Listen)
	}
	if cfg.Semantic.Threshold != 0.90 {
		t.Errorf("expected threshold 0.90, got %v", cfg.Semantic.Threshold)
	}
	if cfg.Semantic.Window != 500 {
		t.Errorf("expected window 500, got %d", cfg.Semantic.Window)
	}
	if got := cfg.Routing.TTLHours["doc_update"]; got != 24 {
		t.Errorf("expected doc_update TTL 24, got %d", got)
	}
	if got := cfg.Routing.TTLHours["code_review"]; got != 0 {
		t.Errorf("expected code_review TTL 0, got %d", got)
	}
	if got := cfg.Routing.Routes["doc_update"]; got != "local" {
		t.Errorf("expected doc_update -> local, got %s", got)
	}
	if cfg.ProbeTimeout != 2*time.Second {
		t.Errorf("expected 2s probe timeout, got %v", cfg.ProbeTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	content := `
db_path: "test.db"
listen: ":9090"
routing:
  routes:
    summarize: haiku
  ttl_hours:
    summarize: 6
backends:
  anthropic:
    api_key: ${TEST_ANTHROPIC_KEY}
semantic:
  threshold: 0.85
budget:
  enabled: true
  policies:
    - project: "*"
      max_cost_usd: 5
      period: daily
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Backends.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("expected expanded api key, got %s", cfg.Backends.Anthropic.APIKey)
	}
	if cfg.Semantic.Threshold != 0.85 {
		t.Errorf("expected threshold 0.85, got %v", cfg.Semantic.Threshold)
	}
	if got := cfg.Routing.Routes["summarize"]; got != "haiku" {
		t.Errorf("expected summarize -> haiku, got %s", got)
	}
	if got := cfg.Routing.TTLHours["summarize"]; got != 6 {
		t.Errorf("expected summarize TTL 6, got %d", got)
	}
	// yaml merges into the default maps.
	if got := cfg.Routing.Routes["doc_update"]; got != "local" {
		t.Errorf("expected default doc_update route kept, got %s", got)
	}
	if len(cfg.Budget.Policies) != 1 {
		t.Fatalf("expected 1 budget policy, got %d", len(cfg.Budget.Policies))
	}
	if cfg.Budget.Policies[0].MaxCostUSD != 5 {
		t.Errorf("expected max cost 5, got %v", cfg.Budget.Policies[0].MaxCostUSD)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Routing.DefaultDestination != "sonnet" {
		t.Errorf("expected sonnet, got %s", cfg.Routing.DefaultDestination)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold zero", func(c *Config) { c.Semantic.Threshold = 0 }},
		{"threshold above one", func(c *Config) { c.Semantic.Threshold = 1.2 }},
		{"window", func(c *Config) { c.Semantic.Window = 0 }},
		{"negative ttl", func(c *Config) { c.Routing.TTLHours["x"] = -1 }},
		{"empty op", func(c *Config) { c.Routing.Routes[""] = "local" }},
		{"no default destination", func(c *Config) { c.Routing.DefaultDestination = "" }},
		{"bad budget period", func(c *Config) {
			c.Budget.Policies = append(c.Budget.Policies, models.BudgetPolicy{Project: "*", MaxCostUSD: 1, Period: "weekly"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	cfg := Default()
	p := cfg.Policy()
	if got := p.Normalize(p.Destination("doc_update")); got != "ollama/qwen2.5-coder:14b" {
		t.Errorf("doc_update model = %s", got)
	}
	if got := p.Normalize(p.Destination("architecture")); got != "claude-opus-4-6" {
		t.Errorf("architecture model = %s", got)
	}
	if got := p.TTLHours("boilerplate"); got != 48 {
		t.Errorf("boilerplate TTL = %d", got)
	}
	if got := p.TTLHours("anything_else"); got != 24 {
		t.Errorf("default TTL = %d", got)
	}

	cfg.Routing.Routes["doc_update"] = "opus"
	if got := p.Destination("doc_update"); got != "local" {
		t.Errorf("policy should be a snapshot, got %s", got)
	}
}
