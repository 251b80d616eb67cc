package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
)

// AnthropicConfig configures the hosted API adapter.
type AnthropicConfig struct {
	URL     string
	APIKey  string
	Version string
	Timeout time.Duration
}

// Anthropic calls the Messages API. Usage and cost come from the response.
type Anthropic struct {
	cfg     AnthropicConfig
	pricing Pricing
	client  *http.Client
}

// NewAnthropic creates the hosted API adapter.
func NewAnthropic(cfg AnthropicConfig, pricing Pricing) *Anthropic {
	if cfg.URL == "" {
		cfg.URL = "https://api.anthropic.com"
	}
	if cfg.Version == "" {
		cfg.Version = "2023-06-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Anthropic{cfg: cfg, pricing: pricing, client: &http.Client{Timeout: cfg.Timeout}}
}

func (a *Anthropic) Name() string { return "anthropic" }
func (a *Anthropic) Kind() Kind   { return API }

// Pricing looks model up in the public price table.
func (a *Anthropic) Pricing(model string) models.ModelPricing {
	pr, _ := a.pricing.Lookup(model)
	return pr
}

// Available is true when an API key is configured; no network probe is made.
func (a *Anthropic) Available(context.Context) bool {
	return a.cfg.APIKey != ""
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Execute implements Adapter.
func (a *Anthropic) Execute(ctx context.Context, call Call) (Result, error) {
	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	req := anthropicRequest{
		Model:     call.Model,
		MaxTokens: maxTokens,
		System:    call.System,
	}
	for _, m := range call.Messages {
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	headers := map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": a.cfg.Version,
	}
	res, err := postJSON(ctx, a.client, a.cfg.URL, "/v1/messages", headers, req)
	if err != nil {
		return Result{}, execFailed(a.Name(), call.Model, err)
	}
	if res.statusCode < 200 || res.statusCode >= 300 {
		return Result{}, execFailed(a.Name(), call.Model, statusError(res))
	}

	var out anthropicResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return Result{}, execFailed(a.Name(), call.Model, fmt.Errorf("decode response: %w", err))
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	return Result{
		Text:      text,
		TokensIn:  out.Usage.InputTokens,
		TokensOut: out.Usage.OutputTokens,
		CostUSD:   a.Pricing(call.Model).Cost(out.Usage.InputTokens, out.Usage.OutputTokens),
		Model:     call.Model,
	}, nil
}
