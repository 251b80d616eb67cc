// Package semantic implements the approximate response cache: a prompt whose
// embedding is close enough to a stored prompt's reuses that prompt's answer.
package semantic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/embedding"
	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/store"
)

const (
	// DefaultThreshold is the minimum cosine similarity for a hit.
	DefaultThreshold = 0.90
	// DefaultWindow is how many of the newest entries per operation are scanned.
	DefaultWindow = 500
)

// Options tunes lookups.
type Options struct {
	Threshold float64
	Window    int
}

// Match is a semantic hit.
type Match struct {
	Entry      models.SemanticEntry
	Similarity float64
}

// Cache is a semantic cache over the cache_embeddings table.
type Cache struct {
	db        *sql.DB
	embedder  embedding.Embedder
	threshold float64
	window    int
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Cache on an opened and migrated database.
func New(db *sql.DB, e embedding.Embedder, opts Options, logger *zap.Logger) *Cache {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:        db,
		embedder:  e,
		threshold: opts.Threshold,
		window:    opts.Window,
		logger:    logger.Named("semantic"),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for created_at.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Threshold returns the configured similarity threshold.
func (c *Cache) Threshold() float64 { return c.threshold }

// Lookup embeds promptText and scans the newest entries of operation for the
// most similar one. A best score at or above the threshold with a non-empty
// response is a hit and bumps the entry's hit count. An unreachable embedder yields a miss; only storage
// failures are returned as errors.
func (c *Cache) Lookup(ctx context.Context, promptText, operation string) (*Match, error) {
	query, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		c.logger.Debug("embedding unavailable, skipping lookup", zap.String("operation", operation), zap.Error(err))
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, prompt_text, response_text, embedding, operation, model, prompt_hash, created_at, hit_count
		 FROM cache_embeddings WHERE operation = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		operation, c.window,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic lookup: %w", err)
	}

	var best *Match
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sim := Cosine(query, e.Embedding)
		// Strictly greater: on ties the newer entry seen first is kept.
		if best == nil || sim > best.Similarity {
			best = &Match{Entry: e, Similarity: sim}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("semantic lookup: %w", err)
	}
	rows.Close()

	if best == nil || best.Similarity < c.threshold || best.Entry.ResponseText == "" {
		return nil, nil
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE cache_embeddings SET hit_count = hit_count + 1 WHERE id = ?`, best.Entry.ID,
	); err != nil {
		return nil, fmt.Errorf("semantic hit count: %w", err)
	}
	best.Entry.HitCount++
	best.Entry.Embedding = nil
	return best, nil
}

// Store embeds promptText and appends an entry. It is skipped without error
// when the embedder is unavailable.
func (c *Cache) Store(ctx context.Context, promptText, responseText, operation, model, promptHash string) error {
	vec, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		c.logger.Debug("embedding unavailable, skipping store", zap.String("operation", operation), zap.Error(err))
		return nil
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cache_embeddings (prompt_text, response_text, embedding, operation, model, prompt_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		promptText, responseText, EncodeVector(vec), operation, model, promptHash, store.FormatTime(c.now()),
	)
	if err != nil {
		return fmt.Errorf("semantic store: %w", err)
	}
	return nil
}

// Stats returns entry and hit totals.
func (c *Cache) Stats(ctx context.Context) (models.SemanticStats, error) {
	var s models.SemanticStats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM cache_embeddings`,
	).Scan(&s.Entries, &s.Hits)
	if err != nil {
		return s, fmt.Errorf("semantic stats: %w", err)
	}
	return s, nil
}

// Clear removes every entry and returns how many were deleted.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_embeddings`)
	if err != nil {
		return 0, fmt.Errorf("semantic clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("semantic clear: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (models.SemanticEntry, error) {
	var e models.SemanticEntry
	var blob []byte
	var ts string
	if err := rows.Scan(&e.ID, &e.PromptText, &e.ResponseText, &blob, &e.Operation, &e.Model,
		&e.PromptHash, &ts, &e.HitCount); err != nil {
		return e, fmt.Errorf("scan semantic entry: %w", err)
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return e, err
	}
	e.Embedding = vec
	if e.CreatedAt, err = store.ParseTime(ts); err != nil {
		return e, fmt.Errorf("scan semantic entry: %w", err)
	}
	return e, nil
}
