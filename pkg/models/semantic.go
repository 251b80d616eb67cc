package models

import "time"

// SemanticEntry is a stored prompt/response pair with its embedding.
// PromptHash is the exact-cache fingerprint of the originating prompt.
type SemanticEntry struct {
	ID           int64     `json:"id"`
	PromptText   string    `json:"prompt_text"`
	ResponseText string    `json:"response_text"`
	Embedding    []float32 `json:"-"`
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	PromptHash   string    `json:"prompt_hash"`
	CreatedAt    time.Time `json:"created_at"`
	HitCount     int64     `json:"hit_count"`
}

// SemanticStats summarizes the semantic cache table.
type SemanticStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
}
