// Package backend defines the adapter contract for completion providers and
// its three implementations: the hosted Anthropic API, the local claude CLI
// and a local Ollama server.
package backend

import (
	"context"
	"strings"

	"github.com/pario-ai/switchboard/pkg/models"
)

// Kind is an adapter's cost class, used by the router's priority order.
type Kind int

const (
	// LocalServer is a free local model server.
	LocalServer Kind = iota
	// CLI is a locally installed tool running under an existing subscription.
	CLI
	// API is a metered hosted endpoint.
	API
)

func (k Kind) String() string {
	switch k {
	case LocalServer:
		return "local-server"
	case CLI:
		return "cli"
	case API:
		return "api"
	default:
		return "unknown"
	}
}

// Call is one completion to run.
type Call struct {
	Messages  []models.Message
	System    string
	Model     string
	MaxTokens int
}

// Result is a completed call. Model is the identifier to record in the ledger.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Model     string
}

// Adapter is a completion provider.
type Adapter interface {
	Name() string
	Kind() Kind
	// Available reports whether the adapter can take a call now. It must
	// return promptly once ctx is done.
	Available(ctx context.Context) bool
	// Execute runs the call once. Failures are *brokererr.Error values of kind
	// BackendExecutionFailed.
	Execute(ctx context.Context, call Call) (Result, error)
	// Pricing returns the USD per 1M token rates charged for model. Free
	// adapters return zero rates.
	Pricing(model string) models.ModelPricing
}

// Pricing is a USD per 1M token table keyed by model id or short name.
type Pricing map[string]models.ModelPricing

// Lookup finds the price for model: exact id, lowercase id, then any
// "-"-separated part of the id that is itself a key.
func (p Pricing) Lookup(model string) (models.ModelPricing, bool) {
	if pr, ok := p[model]; ok {
		return pr, true
	}
	lower := strings.ToLower(model)
	if pr, ok := p[lower]; ok {
		return pr, true
	}
	for _, part := range strings.Split(lower, "-") {
		if pr, ok := p[part]; ok {
			return pr, true
		}
	}
	return models.ModelPricing{}, false
}

// Cost returns the USD cost of a call on model, or 0 when it is not priced.
func (p Pricing) Cost(model string, tokensIn, tokensOut int) float64 {
	pr, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return pr.Cost(tokensIn, tokensOut)
}
