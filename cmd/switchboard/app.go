package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/backend"
	"github.com/pario-ai/switchboard/pkg/budget"
	"github.com/pario-ai/switchboard/pkg/cache/semantic"
	"github.com/pario-ai/switchboard/pkg/config"
	"github.com/pario-ai/switchboard/pkg/embedding"
	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/metrics"
	"github.com/pario-ai/switchboard/pkg/orchestrator"
	"github.com/pario-ai/switchboard/pkg/router"
)

// app is the fully wired broker shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	ledger   *ledger.SQLiteLedger
	semantic *semantic.Cache
	router   *router.Router
	budget   *budget.Enforcer
	metrics  *metrics.Collector
	orch     *orchestrator.Orchestrator
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and wires every component. Callers must Close it.
func openApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := initLogger(cfg.Log)

	l, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		ledger:  l,
		router:  router.New(cfg.Policy(), cfg.ProbeTimeout, logger),
		metrics: metrics.New(),
	}
	if cfg.Semantic.Enabled {
		emb := embedding.NewOllama(embedding.Config{
			BaseURL: cfg.Embedding.URL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
		a.semantic = semantic.New(l.DB(), emb, semantic.Options{
			Threshold: cfg.Semantic.Threshold,
			Window:    cfg.Semantic.Window,
		}, logger)
	}
	if cfg.Budget.Enabled {
		a.budget = budget.New(cfg.Budget.Policies, l)
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Router:   a.router,
		Ledger:   l,
		Semantic: a.semantic,
		Adapters: buildAdapters(cfg),
		Budget:   a.budget,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	return a, nil
}

// buildAdapters registers the enabled backends. Order matters only among
// adapters of the same kind.
func buildAdapters(cfg *config.Config) []backend.Adapter {
	policy := cfg.Policy()
	pricing := backend.Pricing(cfg.Pricing)

	var adapters []backend.Adapter
	if b := cfg.Backends.Ollama; b.Enabled {
		adapters = append(adapters, backend.NewOllama(backend.OllamaConfig{
			URL:          b.URL,
			Prefix:       policy.LocalPrefix,
			DefaultModel: strings.TrimPrefix(policy.PrimaryLocalModel(), policy.LocalPrefix+"/"),
			Timeout:      cfg.ExecuteTimeout,
			ProbeTimeout: cfg.ProbeTimeout,
		}))
	}
	if b := cfg.Backends.CLI; b.Enabled {
		adapters = append(adapters, backend.NewClaudeCLI(backend.CLIConfig{
			Binary:  b.Binary,
			Timeout: cfg.ExecuteTimeout,
			Aliases: cfg.Aliases,
		}, pricing))
	}
	if b := cfg.Backends.Anthropic; b.Enabled {
		adapters = append(adapters, backend.NewAnthropic(backend.AnthropicConfig{
			URL:     b.URL,
			APIKey:  b.APIKey,
			Version: b.Version,
			Timeout: cfg.ExecuteTimeout,
		}, pricing))
	}
	return adapters
}

// openLedger is the lighter path for report commands.
func openLedger(configPath string) (*config.Config, *ledger.SQLiteLedger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return cfg, l, nil
}

func (a *app) Close() error {
	_ = a.logger.Sync()
	return a.ledger.Close()
}
