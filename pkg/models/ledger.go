package models

import "time"

// LedgerEntry is one request attempt, either a real execution or a cache hit.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Project      string    `json:"project"`
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	Backend      string    `json:"backend,omitempty"`
	TokensIn     int       `json:"tokens_in"`
	TokensOut    int       `json:"tokens_out"`
	CostUSD      float64   `json:"cost_usd"`
	PromptHash   string    `json:"prompt_hash"`
	Notes        string    `json:"notes,omitempty"`
	ResponseText *string   `json:"response_text,omitempty"`
	IsCacheHit   bool      `json:"is_cache_hit"`
}

// SpendFilter narrows reporting queries. Zero values mean "no filter".
type SpendFilter struct {
	Since   time.Time
	Until   time.Time
	Project string
	// Model matches either the exact model id or any id containing it.
	Model string
}

// SpendSummary aggregates real (non cache-hit) calls.
type SpendSummary struct {
	Calls     int64   `json:"calls"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	CacheHits int64   `json:"cache_hits"`
	SavedUSD  float64 `json:"saved_usd"`
}

// ModelSpend is a spend row grouped by model.
type ModelSpend struct {
	Model     string  `json:"model"`
	Calls     int64   `json:"calls"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// OperationSpend is a spend row grouped by operation and project.
type OperationSpend struct {
	Operation string  `json:"operation"`
	Project   string  `json:"project"`
	Calls     int64   `json:"calls"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// CachedEntry describes a real call whose response is still stored.
type CachedEntry struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Project      string    `json:"project"`
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	PromptHash   string    `json:"prompt_hash"`
	ResponseSize int       `json:"response_size"`
	CostUSD      float64   `json:"cost_usd"`
}

// CacheStats reports exact-cache effectiveness derived from the ledger.
type CacheStats struct {
	StoredResponses int64   `json:"stored_responses"`
	FreshResponses  int64   `json:"fresh_responses"`
	Hits            int64   `json:"hits"`
	RealCalls       int64   `json:"real_calls"`
	HitRate         float64 `json:"hit_rate"`
	SavedTokensIn   int64   `json:"saved_tokens_in"`
	SavedTokensOut  int64   `json:"saved_tokens_out"`
	SavedUSD        float64 `json:"saved_usd"`
}

// UsageSplit compares local (free) and cloud (metered) real calls.
type UsageSplit struct {
	LocalCalls  int64   `json:"local_calls"`
	LocalTokens int64   `json:"local_tokens"`
	CloudCalls  int64   `json:"cloud_calls"`
	CloudCost   float64 `json:"cloud_cost_usd"`
}
