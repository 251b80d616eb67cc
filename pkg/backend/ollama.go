package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
)

// OllamaConfig configures the local model server adapter.
type OllamaConfig struct {
	URL string
	// Prefix is the provider prefix of recorded model ids, e.g. "ollama".
	Prefix string
	// DefaultModel serves the bare "local" destination.
	DefaultModel string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// Ollama calls a local Ollama server. Calls are free.
type Ollama struct {
	cfg    OllamaConfig
	client *http.Client
	probe  *http.Client
}

// NewOllama creates the local server adapter.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:11434"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ollama"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Ollama{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		probe:  &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

func (o *Ollama) Name() string { return "ollama" }
func (o *Ollama) Kind() Kind   { return LocalServer }

// Pricing is always zero: local calls are free.
func (o *Ollama) Pricing(string) models.ModelPricing { return models.ModelPricing{} }

// Available sends a HEAD to the base URL with the probe timeout.
func (o *Ollama) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.cfg.URL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := o.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// ModelName strips the provider prefix and expands the bare "local" destination.
func (o *Ollama) ModelName(model string) string {
	if model == "local" || model == "" {
		return o.cfg.DefaultModel
	}
	return strings.TrimPrefix(model, o.cfg.Prefix+"/")
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

// Execute implements Adapter.
func (o *Ollama) Execute(ctx context.Context, call Call) (Result, error) {
	name := o.ModelName(call.Model)
	recorded := o.cfg.Prefix + "/" + name

	req := ollamaChatRequest{
		Model:   name,
		Stream:  false,
		Options: ollamaOptions{NumPredict: call.MaxTokens},
	}
	if call.System != "" {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: "system", Content: call.System})
	}
	for _, m := range call.Messages {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}

	res, err := postJSON(ctx, o.client, o.cfg.URL, "/api/chat", nil, req)
	if err != nil {
		return Result{}, execFailed(o.Name(), recorded, err)
	}
	if res.statusCode != http.StatusOK {
		return Result{}, execFailed(o.Name(), recorded, statusError(res))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return Result{}, execFailed(o.Name(), recorded, fmt.Errorf("decode response: %w", err))
	}
	return Result{
		Text:      out.Message.Content,
		TokensIn:  out.PromptEvalCount,
		TokensOut: out.EvalCount,
		Model:     recorded,
	}, nil
}
