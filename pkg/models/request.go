package models

// Message is a single role/content pair of a conversation.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Request is a caller's text-generation request.
type Request struct {
	Messages  []Message `json:"messages" yaml:"messages"`
	Operation string    `json:"operation" yaml:"operation"`
	Project   string    `json:"project" yaml:"project"`
	// Model is a model hint: "auto", a routing destination, an alias or a full model id.
	Model     string `json:"model,omitempty" yaml:"model"`
	System    string `json:"system,omitempty" yaml:"system"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens"`
	// Backend restricts selection to a single named adapter when set.
	Backend string `json:"backend,omitempty" yaml:"backend"`
	Notes   string `json:"notes,omitempty" yaml:"notes"`
}

// CacheSource tells where a response came from.
type CacheSource string

const (
	SourceExecuted CacheSource = "executed"
	SourceExact    CacheSource = "exact"
	SourceSemantic CacheSource = "semantic"
)

// Response is the result of a request, real or cached.
type Response struct {
	Text      string      `json:"text"`
	TokensIn  int         `json:"tokens_in"`
	TokensOut int         `json:"tokens_out"`
	Model     string      `json:"model"`
	CostUSD   float64     `json:"cost_usd"`
	Backend   string      `json:"backend,omitempty"`
	Source    CacheSource `json:"source"`
}

// ModelPricing is the public USD price per one million tokens.
type ModelPricing struct {
	Input  float64 `json:"input_per_mtok" yaml:"input"`
	Output float64 `json:"output_per_mtok" yaml:"output"`
}

// Cost returns the USD cost of the given token counts.
func (p ModelPricing) Cost(tokensIn, tokensOut int) float64 {
	return (float64(tokensIn)*p.Input + float64(tokensOut)*p.Output) / 1_000_000
}
