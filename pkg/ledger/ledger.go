// Package ledger is the append-only accounting log of every request attempt.
// It is also the backing store of the exact-match cache: a cache lookup is a
// query for a recent real call with the same prompt hash.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/store"
)

// Ledger records request attempts and answers reporting and cache queries.
type Ledger interface {
	// Record appends an entry and returns its id.
	Record(ctx context.Context, e models.LedgerEntry) (int64, error)
	// QueryCachedResponse returns the newest reusable response for hash+operation
	// written within ttlHours. ttlHours == 0 never returns a response.
	QueryCachedResponse(ctx context.Context, promptHash, operation string, ttlHours int) (string, bool, error)
	// Summary aggregates real calls matching f, plus cache hits and savings.
	Summary(ctx context.Context, f models.SpendFilter) (models.SpendSummary, error)
	// ByModel groups real calls matching f by model, most expensive first.
	ByModel(ctx context.Context, f models.SpendFilter) ([]models.ModelSpend, error)
	// TopOperations groups real calls by operation and project, most expensive first.
	TopOperations(ctx context.Context, f models.SpendFilter, limit int) ([]models.OperationSpend, error)
	// Recent returns the newest real calls matching f.
	Recent(ctx context.Context, f models.SpendFilter, limit int) ([]models.LedgerEntry, error)
	// CachedEntries lists the newest real calls that still hold a response.
	CachedEntries(ctx context.Context, limit int) ([]models.CachedEntry, error)
	// CacheStats reports hit accounting. Responses newer than freshTTLHours count as fresh.
	CacheStats(ctx context.Context, freshTTLHours int) (models.CacheStats, error)
	// ClearResponses drops stored responses, keeping the rows. olderThanHours <= 0 clears all.
	ClearResponses(ctx context.Context, olderThanHours int) (int64, error)
	// UsageSplit compares real calls on local models (prefix/...) with cloud calls.
	UsageSplit(ctx context.Context, localPrefix string) (models.UsageSplit, error)
	// TotalCost sums real spend for project ("" or "*" for all) since the given time.
	TotalCost(ctx context.Context, project string, since time.Time) (float64, error)
	// Close releases resources.
	Close() error
}

// SQLiteLedger implements Ledger over the token_log table.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an opened and migrated database.
func New(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db, now: time.Now}
}

// Open opens the database at dbPath and returns a ledger over it.
func Open(dbPath string) (*SQLiteLedger, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// SetClock overrides the time source used for timestamps and TTL cutoffs.
func (l *SQLiteLedger) SetClock(now func() time.Time) {
	l.now = now
}

// DB exposes the underlying database so other stores can share it.
func (l *SQLiteLedger) DB() *sql.DB {
	return l.db
}

// Record appends an entry. Cache-hit rows are normalized to zero tokens, zero
// cost and no response text, and must carry the prompt hash of their origin.
func (l *SQLiteLedger) Record(ctx context.Context, e models.LedgerEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.IsCacheHit {
		if e.PromptHash == "" {
			return 0, fmt.Errorf("record entry: cache hit without prompt hash")
		}
		e.TokensIn, e.TokensOut, e.CostUSD = 0, 0, 0
		e.ResponseText = nil
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO token_log (timestamp, project, operation, model, backend, tokens_in, tokens_out,
			cost_usd, prompt_hash, notes, response_text, is_cache_hit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		store.FormatTime(e.Timestamp), e.Project, e.Operation, e.Model, nullString(e.Backend),
		e.TokensIn, e.TokensOut, e.CostUSD, e.PromptHash, nullString(e.Notes), e.ResponseText, boolInt(e.IsCacheHit),
	)
	if err != nil {
		return 0, fmt.Errorf("record entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record entry id: %w", err)
	}
	return id, nil
}

// QueryCachedResponse implements Ledger.
func (l *SQLiteLedger) QueryCachedResponse(ctx context.Context, promptHash, operation string, ttlHours int) (string, bool, error) {
	if ttlHours <= 0 {
		return "", false, nil
	}
	cutoff := l.now().Add(-time.Duration(ttlHours) * time.Hour)

	var text string
	err := l.db.QueryRowContext(ctx,
		`SELECT response_text FROM token_log
		 WHERE prompt_hash = ? AND operation = ? AND is_cache_hit = 0
		   AND response_text IS NOT NULL AND response_text != ''
		   AND timestamp >= ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		promptHash, operation, store.FormatTime(cutoff),
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query cached response: %w", err)
	}
	return text, true, nil
}

// Summary implements Ledger.
func (l *SQLiteLedger) Summary(ctx context.Context, f models.SpendFilter) (models.SpendSummary, error) {
	var s models.SpendSummary

	where, args := filterClause(f, "")
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0)
		 FROM token_log WHERE is_cache_hit = 0`+where, args...,
	).Scan(&s.Calls, &s.TokensIn, &s.TokensOut, &s.CostUSD)
	if err != nil {
		return s, fmt.Errorf("spend summary: %w", err)
	}

	saved, err := l.savings(ctx, f)
	if err != nil {
		return s, err
	}
	s.CacheHits = saved.hits
	s.SavedUSD = saved.cost
	return s, nil
}

type savings struct {
	hits      int64
	tokensIn  int64
	tokensOut int64
	cost      float64
}

// savings joins every hit row matching f to its origin: the newest real call
// with the same hash and operation at or before the hit.
func (l *SQLiteLedger) savings(ctx context.Context, f models.SpendFilter) (savings, error) {
	var s savings
	where, args := filterClause(f, "h.")
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(h.id), COALESCE(SUM(o.tokens_in), 0), COALESCE(SUM(o.tokens_out), 0), COALESCE(SUM(o.cost_usd), 0)
		 FROM token_log h
		 LEFT JOIN token_log o ON o.id = (
			SELECT r.id FROM token_log r
			WHERE r.is_cache_hit = 0 AND r.prompt_hash = h.prompt_hash
			  AND r.operation = h.operation AND r.timestamp <= h.timestamp
			ORDER BY r.timestamp DESC, r.id DESC LIMIT 1)
		 WHERE h.is_cache_hit = 1`+where, args...,
	).Scan(&s.hits, &s.tokensIn, &s.tokensOut, &s.cost)
	if err != nil {
		return s, fmt.Errorf("cache savings: %w", err)
	}
	return s, nil
}

// ByModel implements Ledger.
func (l *SQLiteLedger) ByModel(ctx context.Context, f models.SpendFilter) ([]models.ModelSpend, error) {
	where, args := filterClause(f, "")
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0)
		 FROM token_log WHERE is_cache_hit = 0`+where+`
		 GROUP BY model ORDER BY SUM(cost_usd) DESC, model`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("spend by model: %w", err)
	}
	defer rows.Close()

	var out []models.ModelSpend
	for rows.Next() {
		var m models.ModelSpend
		if err := rows.Scan(&m.Model, &m.Calls, &m.TokensIn, &m.TokensOut, &m.CostUSD); err != nil {
			return nil, fmt.Errorf("scan model spend: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TopOperations implements Ledger.
func (l *SQLiteLedger) TopOperations(ctx context.Context, f models.SpendFilter, limit int) ([]models.OperationSpend, error) {
	where, args := filterClause(f, "")
	args = append(args, limit)
	rows, err := l.db.QueryContext(ctx,
		`SELECT operation, project, COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0)
		 FROM token_log WHERE is_cache_hit = 0`+where+`
		 GROUP BY operation, project ORDER BY SUM(cost_usd) DESC, COUNT(*) DESC LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("top operations: %w", err)
	}
	defer rows.Close()

	var out []models.OperationSpend
	for rows.Next() {
		var o models.OperationSpend
		if err := rows.Scan(&o.Operation, &o.Project, &o.Calls, &o.TokensIn, &o.TokensOut, &o.CostUSD); err != nil {
			return nil, fmt.Errorf("scan operation spend: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Recent implements Ledger.
func (l *SQLiteLedger) Recent(ctx context.Context, f models.SpendFilter, limit int) ([]models.LedgerEntry, error) {
	where, args := filterClause(f, "")
	args = append(args, limit)
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, project, operation, model, backend, tokens_in, tokens_out, cost_usd,
			prompt_hash, notes, response_text, is_cache_hit
		 FROM token_log WHERE is_cache_hit = 0`+where+`
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CachedEntries implements Ledger.
func (l *SQLiteLedger) CachedEntries(ctx context.Context, limit int) ([]models.CachedEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, project, operation, model, prompt_hash, LENGTH(response_text), cost_usd
		 FROM token_log
		 WHERE is_cache_hit = 0 AND response_text IS NOT NULL AND response_text != ''
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cached entries: %w", err)
	}
	defer rows.Close()

	var out []models.CachedEntry
	for rows.Next() {
		var c models.CachedEntry
		var ts string
		if err := rows.Scan(&c.ID, &ts, &c.Project, &c.Operation, &c.Model, &c.PromptHash, &c.ResponseSize, &c.CostUSD); err != nil {
			return nil, fmt.Errorf("scan cached entry: %w", err)
		}
		if c.Timestamp, err = store.ParseTime(ts); err != nil {
			return nil, fmt.Errorf("scan cached entry: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CacheStats implements Ledger.
func (l *SQLiteLedger) CacheStats(ctx context.Context, freshTTLHours int) (models.CacheStats, error) {
	var st models.CacheStats

	// A cutoff in the future counts nothing as fresh.
	cutoff := l.now().Add(time.Hour)
	if freshTTLHours > 0 {
		cutoff = l.now().Add(-time.Duration(freshTTLHours) * time.Hour)
	}

	err := l.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN is_cache_hit = 0 AND response_text IS NOT NULL AND response_text != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_cache_hit = 0 AND response_text IS NOT NULL AND response_text != '' AND timestamp >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_cache_hit = 0 THEN 1 ELSE 0 END), 0)
		 FROM token_log`, store.FormatTime(cutoff),
	).Scan(&st.StoredResponses, &st.FreshResponses, &st.RealCalls)
	if err != nil {
		return st, fmt.Errorf("cache stats: %w", err)
	}

	saved, err := l.savings(ctx, models.SpendFilter{})
	if err != nil {
		return st, err
	}
	st.Hits = saved.hits
	st.SavedTokensIn = saved.tokensIn
	st.SavedTokensOut = saved.tokensOut
	st.SavedUSD = saved.cost
	if total := st.Hits + st.RealCalls; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st, nil
}

// ClearResponses implements Ledger.
func (l *SQLiteLedger) ClearResponses(ctx context.Context, olderThanHours int) (int64, error) {
	query := `UPDATE token_log SET response_text = NULL WHERE response_text IS NOT NULL`
	var args []any
	if olderThanHours > 0 {
		query += ` AND timestamp < ?`
		args = append(args, store.FormatTime(l.now().Add(-time.Duration(olderThanHours)*time.Hour)))
	}
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear responses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear responses: %w", err)
	}
	return n, nil
}

// UsageSplit implements Ledger.
func (l *SQLiteLedger) UsageSplit(ctx context.Context, localPrefix string) (models.UsageSplit, error) {
	var u models.UsageSplit
	pattern := localPrefix + "/%"
	err := l.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN model LIKE ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN model LIKE ? THEN tokens_in + tokens_out ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN model NOT LIKE ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN model NOT LIKE ? THEN cost_usd ELSE 0 END), 0)
		 FROM token_log WHERE is_cache_hit = 0`,
		pattern, pattern, pattern, pattern,
	).Scan(&u.LocalCalls, &u.LocalTokens, &u.CloudCalls, &u.CloudCost)
	if err != nil {
		return u, fmt.Errorf("usage split: %w", err)
	}
	return u, nil
}

// TotalCost implements Ledger.
func (l *SQLiteLedger) TotalCost(ctx context.Context, project string, since time.Time) (float64, error) {
	f := models.SpendFilter{Since: since}
	if project != "*" {
		f.Project = project
	}
	where, args := filterClause(f, "")
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM token_log WHERE is_cache_hit = 0`+where, args...,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// filterClause renders f as " AND ..." conditions on columns with the given prefix.
func filterClause(f models.SpendFilter, prefix string) (string, []any) {
	var conds []string
	var args []any
	if !f.Since.IsZero() {
		conds = append(conds, prefix+"timestamp >= ?")
		args = append(args, store.FormatTime(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, prefix+"timestamp < ?")
		args = append(args, store.FormatTime(f.Until))
	}
	if f.Project != "" {
		conds = append(conds, prefix+"project = ?")
		args = append(args, f.Project)
	}
	if f.Model != "" {
		conds = append(conds, "("+prefix+"model = ? OR "+prefix+"model LIKE ?)")
		args = append(args, f.Model, "%"+f.Model+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	var ts string
	var backend, notes, response sql.NullString
	var hit int
	if err := s.Scan(&e.ID, &ts, &e.Project, &e.Operation, &e.Model, &backend, &e.TokensIn, &e.TokensOut,
		&e.CostUSD, &e.PromptHash, &notes, &response, &hit); err != nil {
		return e, fmt.Errorf("scan entry: %w", err)
	}
	t, err := store.ParseTime(ts)
	if err != nil {
		return e, fmt.Errorf("scan entry: %w", err)
	}
	e.Timestamp = t
	e.Backend = backend.String
	e.Notes = notes.String
	if response.Valid {
		text := response.String
		e.ResponseText = &text
	}
	e.IsCacheHit = hit != 0
	return e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
