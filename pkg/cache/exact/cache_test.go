package exact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/models"
)

type ttlMap map[string]int

func (m ttlMap) TTLHours(op string) int { return m[op] }

func newTestCache(t *testing.T, policy ttlMap) (*Cache, *ledger.SQLiteLedger, *time.Time) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "cache_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })
	return New(l, policy), l, &now
}

func TestHashPromptKnownVectors(t *testing.T) {
	got := HashPrompt([]models.Message{{Role: "user", Content: "hello"}}, "")
	assert.Equal(t, "5f5713ddcefdd0e6fb476d0b8abfe41db1b70f8b64fac1b5d7aac4aefb3283d6", got)

	got = HashPrompt([]models.Message{{Role: "user", Content: "Zdravím <b>\"x\"</b> & ü\n"}}, "Be terse.")
	assert.Equal(t, "56eb3191190ff39fb64c9aa6de5f89d5ec75ba16c116c5d1d75cfee963c263f8", got)
}

func TestHashPromptProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 4).Draw(t, "n")
		msgs := make([]models.Message, n)
		for i := range msgs {
			msgs[i] = models.Message{
				Role:    rapid.SampledFrom([]string{"user", "assistant"}).Draw(t, "role"),
				Content: rapid.String().Draw(t, "content"),
			}
		}
		system := rapid.String().Draw(t, "system")

		h := HashPrompt(msgs, system)
		if len(h) != 64 {
			t.Fatalf("hash length %d", len(h))
		}
		copied := append([]models.Message(nil), msgs...)
		if HashPrompt(copied, system) != h {
			t.Fatal("hash is not deterministic")
		}
		if HashPrompt(msgs, system+"x") == h {
			t.Fatal("system prompt must affect the hash")
		}
		extra := append(copied, models.Message{Role: "user", Content: "more"})
		if HashPrompt(extra, system) == h {
			t.Fatal("messages must affect the hash")
		}
	})
}

func TestLookupRespectsTTL(t *testing.T) {
	c, _, now := newTestCache(t, ttlMap{"doc_update": 24, "code_review": 0})
	ctx := context.Background()

	hash := HashPrompt([]models.Message{{Role: "user", Content: "update README"}}, "")
	resp := "R1"
	_, err := c.Store(ctx, models.LedgerEntry{Operation: "doc_update", Model: "ollama/qwen", PromptHash: hash, ResponseText: &resp})
	require.NoError(t, err)
	_, err = c.Store(ctx, models.LedgerEntry{Operation: "code_review", Model: "claude-sonnet-4-6", PromptHash: hash, ResponseText: &resp})
	require.NoError(t, err)

	text, ok, err := c.Lookup(ctx, hash, "doc_update")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "R1", text)

	_, ok, err = c.Lookup(ctx, hash, "code_review")
	require.NoError(t, err)
	assert.False(t, ok, "ttl 0 disables reuse even with a fresh row")

	*now = now.Add(25 * time.Hour)
	_, ok, err = c.Lookup(ctx, hash, "doc_update")
	require.NoError(t, err)
	assert.False(t, ok)

	hits, misses := c.Counters()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestLookupDoesNotRecord(t *testing.T) {
	c, l, _ := newTestCache(t, ttlMap{"doc_update": 24})
	ctx := context.Background()

	resp := "R1"
	_, err := c.Store(ctx, models.LedgerEntry{Operation: "doc_update", PromptHash: "h", ResponseText: &resp})
	require.NoError(t, err)
	for range 3 {
		_, _, err := c.Lookup(ctx, "h", "doc_update")
		require.NoError(t, err)
	}

	st, err := l.CacheStats(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Hits)
	assert.Equal(t, int64(1), st.RealCalls)
}

func TestRecordHit(t *testing.T) {
	c, l, _ := newTestCache(t, ttlMap{"doc_update": 24})
	ctx := context.Background()

	resp := "R1"
	_, err := c.Store(ctx, models.LedgerEntry{Operation: "doc_update", PromptHash: "h", TokensIn: 10, CostUSD: 0.2, ResponseText: &resp})
	require.NoError(t, err)
	require.NoError(t, c.RecordHit(ctx, "p", "doc_update", "ollama/qwen", "h", ""))

	st, err := l.CacheStats(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Hits)
	assert.InDelta(t, 0.2, st.SavedUSD, 1e-9)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
}
