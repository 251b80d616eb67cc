package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/router"
	"gopkg.in/yaml.v3"
)

// Config holds all Switchboard configuration.
type Config struct {
	DBPath         string                         `yaml:"db_path"`
	Listen         string                         `yaml:"listen"`
	Log            LogConfig                      `yaml:"log"`
	Routing        RoutingConfig                  `yaml:"routing"`
	Aliases        map[string]string              `yaml:"aliases"`
	Pricing        map[string]models.ModelPricing `yaml:"pricing"`
	Backends       BackendsConfig                 `yaml:"backends"`
	Embedding      EmbeddingConfig                `yaml:"embedding"`
	Semantic       SemanticConfig                 `yaml:"semantic"`
	ProbeTimeout   time.Duration                  `yaml:"probe_timeout"`
	ExecuteTimeout time.Duration                  `yaml:"execute_timeout"`
	Budget         BudgetConfig                   `yaml:"budget"`
	Server         ServerConfig                   `yaml:"server"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// RoutingConfig is the static operation policy.
type RoutingConfig struct {
	// Routes maps operation -> destination ("local", "sonnet", a full model id, ...).
	Routes             map[string]string `yaml:"routes"`
	TTLHours           map[string]int    `yaml:"ttl_hours"`
	DefaultDestination string            `yaml:"default_destination"`
	DefaultTTLHours    int               `yaml:"default_ttl_hours"`
	// LocalDestinations maps local-class destinations to model names on the local server.
	LocalDestinations map[string]string `yaml:"local_destinations"`
	LocalPrefix       string            `yaml:"local_prefix"`
	// CloudFallback is the destination sent to cloud adapters when local routing falls back.
	CloudFallback string `yaml:"cloud_fallback"`
}

// BackendsConfig enables and configures the adapters, in registration order.
type BackendsConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	CLI       CLIConfig       `yaml:"cli"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

// AnthropicConfig configures the hosted API adapter.
type AnthropicConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Version string `yaml:"version"`
}

// CLIConfig configures the local CLI adapter.
type CLIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
}

// OllamaConfig configures the local model server adapter.
type OllamaConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// SemanticConfig controls the semantic cache.
type SemanticConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	Window    int     `yaml:"window"`
}

// BudgetConfig controls spend enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int     `yaml:"burst"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath: defaultDBPath(),
		Listen: ":8100",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Routing: RoutingConfig{
			Routes: map[string]string{
				"doc_update":    "local",
				"boilerplate":   "local",
				"info_sync":     "local",
				"code_review":   "sonnet",
				"architecture":  "opus",
				"debug_complex": "sonnet",
				"deepseek":      "deepseek",
			},
			TTLHours: map[string]int{
				"doc_update":   24,
				"boilerplate":  48,
				"info_sync":    12,
				"code_review":  0,
				"architecture": 0,
				"debug":        0,
				"deepseek":     0,
			},
			DefaultDestination: "sonnet",
			DefaultTTLHours:    24,
			LocalDestinations: map[string]string{
				"local":          "qwen2.5-coder:14b",
				"deepseek":       "deepseek-coder:33b",
				"deepseek-coder": "deepseek-coder:33b",
			},
			LocalPrefix:   "ollama",
			CloudFallback: "sonnet",
		},
		Aliases: map[string]string{
			"opus":   "claude-opus-4-6",
			"sonnet": "claude-sonnet-4-6",
			"haiku":  "claude-haiku-4-5",
		},
		Pricing: map[string]models.ModelPricing{
			"claude-opus-4-6":   {Input: 15.00, Output: 75.00},
			"claude-sonnet-4-6": {Input: 3.00, Output: 15.00},
			"claude-haiku-4-5":  {Input: 0.80, Output: 4.00},
			"opus":              {Input: 15.00, Output: 75.00},
			"sonnet":            {Input: 3.00, Output: 15.00},
			"haiku":             {Input: 0.80, Output: 4.00},
		},
		Backends: BackendsConfig{
			Anthropic: AnthropicConfig{
				Enabled: true,
				URL:     "https://api.anthropic.com",
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Version: "2023-06-01",
			},
			CLI: CLIConfig{
				Enabled: true,
				Binary:  "claude",
			},
			Ollama: OllamaConfig{
				Enabled: true,
				URL:     "http://localhost:11434",
			},
		},
		Embedding: EmbeddingConfig{
			URL:     "http://localhost:11434",
			Model:   "nomic-embed-text",
			Timeout: 10 * time.Second,
		},
		Semantic: SemanticConfig{
			Enabled:   true,
			Threshold: 0.90,
			Window:    500,
		},
		ProbeTimeout:   2 * time.Second,
		ExecuteTimeout: 120 * time.Second,
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "switchboard.db"
	}
	return home + "/.switchboard/switchboard.db"
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path when set, otherwise returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.Semantic.Threshold <= 0 || c.Semantic.Threshold > 1 {
		return fmt.Errorf("config: semantic.threshold must be in (0, 1], got %v", c.Semantic.Threshold)
	}
	if c.Semantic.Window <= 0 {
		return fmt.Errorf("config: semantic.window must be positive, got %d", c.Semantic.Window)
	}
	if c.Routing.DefaultTTLHours < 0 {
		return fmt.Errorf("config: routing.default_ttl_hours must not be negative")
	}
	for op, ttl := range c.Routing.TTLHours {
		if strings.TrimSpace(op) == "" {
			return fmt.Errorf("config: empty operation in routing.ttl_hours")
		}
		if ttl < 0 {
			return fmt.Errorf("config: routing.ttl_hours[%s] must not be negative", op)
		}
	}
	for op := range c.Routing.Routes {
		if strings.TrimSpace(op) == "" {
			return fmt.Errorf("config: empty operation in routing.routes")
		}
	}
	if c.Routing.DefaultDestination == "" {
		return fmt.Errorf("config: routing.default_destination is required")
	}
	if c.Routing.LocalPrefix == "" {
		return fmt.Errorf("config: routing.local_prefix is required")
	}
	for _, p := range c.Budget.Policies {
		switch p.Period {
		case models.BudgetDaily, models.BudgetMonthly:
		default:
			return fmt.Errorf("config: budget policy for %q has unknown period %q", p.Project, p.Period)
		}
	}
	return nil
}

// Policy builds the immutable routing policy from the routing and alias sections.
func (c *Config) Policy() router.Policy {
	return router.NewPolicy(router.Policy{
		Routes:             c.Routing.Routes,
		TTL:                c.Routing.TTLHours,
		DefaultDestination: c.Routing.DefaultDestination,
		DefaultTTL:         c.Routing.DefaultTTLHours,
		LocalDestinations:  c.Routing.LocalDestinations,
		LocalPrefix:        c.Routing.LocalPrefix,
		Aliases:            c.Aliases,
		CloudFallback:      c.Routing.CloudFallback,
	})
}
