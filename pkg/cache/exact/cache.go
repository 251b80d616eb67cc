// Package exact implements the exact-match response cache. Entries are not
// stored separately: a lookup is a ledger query for a fresh real call with the
// same prompt hash and operation.
package exact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/models"
)

// TTLPolicy supplies the reuse window for an operation. 0 disables reuse.
type TTLPolicy interface {
	TTLHours(operation string) int
}

// Cache is an exact-match prompt cache backed by the ledger.
type Cache struct {
	ledger ledger.Ledger
	policy TTLPolicy
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache over l using policy for per-operation TTLs.
func New(l ledger.Ledger, policy TTLPolicy) *Cache {
	return &Cache{ledger: l, policy: policy}
}

// HashPrompt fingerprints the prompt content: a hex SHA-256 of
// {"messages": [{"content": .., "role": ..}, ..], "system": ..} with sorted
// keys and ", " / ": " separators. Project, operation and model are not part
// of the hash.
func HashPrompt(messages []models.Message, system string) string {
	var b strings.Builder
	b.WriteString(`{"messages": [`)
	for i, m := range messages {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`{"content": `)
		b.WriteString(quote(m.Content))
		b.WriteString(`, "role": `)
		b.WriteString(quote(m.Role))
		b.WriteString("}")
	}
	b.WriteString(`], "system": `)
	b.WriteString(quote(system))
	b.WriteString("}")

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// Lookup returns a fresh response for the hash within the operation's TTL.
// It never records anything; recording a hit is the caller's job.
func (c *Cache) Lookup(ctx context.Context, promptHash, operation string) (string, bool, error) {
	text, ok, err := c.ledger.QueryCachedResponse(ctx, promptHash, operation, c.policy.TTLHours(operation))
	if err != nil {
		return "", false, fmt.Errorf("exact cache lookup: %w", err)
	}
	if !ok {
		c.misses.Add(1)
		return "", false, nil
	}
	c.hits.Add(1)
	return text, true, nil
}

// Store records a real execution with its full response. The row is written
// for every real call; whether it is ever served again depends on the TTL.
func (c *Cache) Store(ctx context.Context, e models.LedgerEntry) (int64, error) {
	e.IsCacheHit = false
	id, err := c.ledger.Record(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("exact cache store: %w", err)
	}
	return id, nil
}

// RecordHit appends a zero-cost hit row for a response served from cache.
func (c *Cache) RecordHit(ctx context.Context, project, operation, model, promptHash, notes string) error {
	_, err := c.ledger.Record(ctx, models.LedgerEntry{
		Project:    project,
		Operation:  operation,
		Model:      model,
		PromptHash: promptHash,
		Notes:      notes,
		IsCacheHit: true,
	})
	if err != nil {
		return fmt.Errorf("record cache hit: %w", err)
	}
	return nil
}

// Counters returns in-process lookup hits and misses.
func (c *Cache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
