package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var handlers = map[string]toolHandler{
	"switchboard_ask":            handleAsk,
	"switchboard_spend":          handleSpend,
	"switchboard_cache_stats":    handleCacheStats,
	"switchboard_cached_entries": handleCachedEntries,
	"switchboard_route":          handleRoute,
	"switchboard_budget":         handleBudget,
}

func str(desc string) Property { return Property{Type: "string", Description: desc} }

var tools = []Tool{
	{
		Name: "switchboard_ask",
		Description: "Send a prompt through the broker. Cached answers are returned for free; " +
			"otherwise the cheapest available backend for the operation answers.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"prompt":    str("The user prompt"),
				"operation": str("Operation name used for routing and cache TTL, e.g. doc_update or code_review"),
				"project":   str("Project label for accounting (optional)"),
				"model":     str("Model hint: auto (default), a destination such as sonnet or local, or ollama/<model> to force the local server"),
				"system":    str("System prompt (optional)"),
				"backend":   str("Restrict execution to one backend: ollama, claude-code or anthropic (optional)"),
			},
			Required: []string{"prompt", "operation"},
		},
	},
	{
		Name:        "switchboard_spend",
		Description: "Show real spend, cache hits and savings, broken down by model.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"window":  {Type: "string", Description: "Reporting window (default month)", Enum: []string{"today", "week", "month", "all"}},
				"since":   str("Start date YYYY-MM-DD, overrides window (optional)"),
				"project": str("Filter by project (optional)"),
				"model":   str("Filter by model id or substring (optional)"),
			},
		},
	},
	{
		Name:        "switchboard_cache_stats",
		Description: "Show exact and semantic cache statistics: stored responses, hit rate and savings.",
		InputSchema: Schema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "switchboard_cached_entries",
		Description: "List the most recent real calls whose responses are still cached.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"limit": {Type: "integer", Description: "Maximum rows (default 30)"},
			},
		},
	},
	{
		Name:        "switchboard_route",
		Description: "Show the routing table, or the route for one operation, with local versus cloud usage.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"operation": str("Operation to inspect (optional, omit for the full table)"),
			},
		},
	},
	{
		Name:        "switchboard_budget",
		Description: "Show spend against configured budget policies.",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"project": str("Filter by project (optional)"),
			},
		},
	},
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

type askArgs struct {
	Prompt    string `json:"prompt"`
	Operation string `json:"operation"`
	Project   string `json:"project"`
	Model     string `json:"model"`
	System    string `json:"system"`
	Backend   string `json:"backend"`
}

func handleAsk(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args askArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if args.Prompt == "" {
		return errorResult("prompt is required")
	}

	resp, err := s.orch.Request(ctx, models.Request{
		Messages:  []models.Message{{Role: "user", Content: args.Prompt}},
		Operation: args.Operation,
		Project:   args.Project,
		Model:     args.Model,
		System:    args.System,
		Backend:   args.Backend,
		Notes:     "mcp",
	})
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(formatResponse(resp))
}

type spendArgs struct {
	Window  string `json:"window"`
	Since   string `json:"since"`
	Project string `json:"project"`
	Model   string `json:"model"`
}

func handleSpend(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args spendArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if args.Window == "" {
		args.Window = ledger.WindowMonth
	}

	f := models.SpendFilter{Project: args.Project, Model: args.Model}
	var err error
	if args.Since != "" {
		f.Since, err = ledger.ParseSince(args.Since)
	} else {
		f.Since, err = ledger.WindowStart(args.Window, time.Now())
	}
	if err != nil {
		return errorResult(err.Error())
	}

	sum, err := s.ledger.Summary(ctx, f)
	if err != nil {
		return errorResult("Error fetching spend: " + err.Error())
	}
	byModel, err := s.ledger.ByModel(ctx, f)
	if err != nil {
		return errorResult("Error fetching spend by model: " + err.Error())
	}
	return textResult(formatSpend(sum, byModel))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	policy := s.orch.Router().Policy()
	st, err := s.ledger.CacheStats(ctx, policy.MinPositiveTTL())
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	var sem *models.SemanticStats
	if s.semantic != nil {
		v, err := s.semantic.Stats(ctx)
		if err != nil {
			return errorResult("Error fetching semantic cache stats: " + err.Error())
		}
		sem = &v
	}
	return textResult(formatCacheStats(st, sem, policy.MinPositiveTTL()))
}

type entriesArgs struct {
	Limit int `json:"limit"`
}

func handleCachedEntries(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args entriesArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if args.Limit <= 0 {
		args.Limit = 30
	}
	rows, err := s.ledger.CachedEntries(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching cached entries: " + err.Error())
	}
	return textResult(formatCachedEntries(rows))
}

type routeArgs struct {
	Operation string `json:"operation"`
}

func handleRoute(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args routeArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	policy := s.orch.Router().Policy()
	usage, err := s.ledger.UsageSplit(ctx, policy.LocalPrefix)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	if args.Operation != "" {
		return textResult(formatRoute(policy.Describe(args.Operation), usage))
	}
	return textResult(formatRouteTable(policy.Table(), usage))
}

type budgetArgs struct {
	Project string `json:"project"`
}

func handleBudget(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.budget == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args budgetArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	st, err := s.budget.Status(ctx, args.Project)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(st))
}
