package semantic

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/switchboard/pkg/embedding"
	"github.com/pario-ai/switchboard/pkg/store"
)

// fakeEmbedder returns fixed vectors per text; unknown text is an outage.
type fakeEmbedder struct {
	vectors map[string][]float32
	down    bool
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.down {
		return nil, fmt.Errorf("%w: connection refused", embedding.ErrUnavailable)
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", embedding.ErrUnavailable, text)
	}
	return v, nil
}

func newTestCache(t *testing.T, e embedding.Embedder) *Cache {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "semantic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c := New(db, e, Options{}, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	c.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return c
}

// at95 is a unit vector with cosine 0.95 against (1, 0).
var at95 = []float32{0.95, float32(math.Sqrt(1 - 0.95*0.95))}

func TestLookupParaphraseHit(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"how do I reverse a list":    {1, 0},
		"what is the way to reverse": at95,
	}}
	c := newTestCache(t, emb)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "how do I reverse a list", "use slices.Reverse", "doc_update", "ollama/qwen", "hash-1"))

	m, err := c.Lookup(ctx, "what is the way to reverse", "doc_update")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "use slices.Reverse", m.Entry.ResponseText)
	assert.Equal(t, "hash-1", m.Entry.PromptHash)
	assert.InDelta(t, 0.95, m.Similarity, 1e-6)
	assert.Equal(t, int64(1), m.Entry.HitCount)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, int64(1), st.Hits)
}

func TestLookupIgnoresEmptyResponse(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"how do I reverse a list":    {1, 0},
		"what is the way to reverse": at95,
	}}
	c := newTestCache(t, emb)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "how do I reverse a list", "", "doc_update", "ollama/qwen", "hash-1"))

	m, err := c.Lookup(ctx, "what is the way to reverse", "doc_update")
	require.NoError(t, err)
	assert.Nil(t, m)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Hits)
}

func TestLookupBelowThresholdAndOtherOperation(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {0.8, 0.6},
	}}
	c := newTestCache(t, emb)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", "A", "doc_update", "m", "h"))

	m, err := c.Lookup(ctx, "b", "doc_update")
	require.NoError(t, err)
	assert.Nil(t, m, "0.8 is below the 0.90 threshold")

	m, err = c.Lookup(ctx, "a", "boilerplate")
	require.NoError(t, err)
	assert.Nil(t, m, "entries are scoped by operation")
}

func TestLookupPicksBestAndNewestOnTie(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"q":     {1, 0},
		"old":   {1, 0},
		"new":   {2, 0},
		"close": at95,
	}}
	c := newTestCache(t, emb)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "old", "OLD", "op", "m", "h1"))
	require.NoError(t, c.Store(ctx, "close", "CLOSE", "op", "m", "h2"))
	require.NoError(t, c.Store(ctx, "new", "NEW", "op", "m", "h3"))

	m, err := c.Lookup(ctx, "q", "op")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "NEW", m.Entry.ResponseText)
}

func TestLookupWindow(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"q":     {1, 0},
		"match": {1, 0},
		"other": {0, 1},
	}}
	c := newTestCache(t, emb)
	c.window = 2
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "match", "M", "op", "m", "h1"))
	require.NoError(t, c.Store(ctx, "other", "O1", "op", "m", "h2"))
	require.NoError(t, c.Store(ctx, "other", "O2", "op", "m", "h3"))

	m, err := c.Lookup(ctx, "q", "op")
	require.NoError(t, err)
	assert.Nil(t, m, "entries outside the recency window are not scanned")
}

func TestEmbedderDownDegrades(t *testing.T) {
	emb := &fakeEmbedder{down: true}
	c := newTestCache(t, emb)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", "A", "op", "m", "h"))
	m, err := c.Lookup(ctx, "a", "op")
	require.NoError(t, err)
	assert.Nil(t, m)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Entries)
}

func TestClear(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"a": {1}, "b": {2}}}
	c := newTestCache(t, emb)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", "A", "op", "m", "h"))
	require.NoError(t, c.Store(ctx, "b", "B", "op", "m", "h"))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLookupStorageFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, prompt_text").WillReturnError(fmt.Errorf("database is locked"))

	c := New(db, &fakeEmbedder{vectors: map[string][]float32{"a": {1}}}, Options{}, nil)
	m, err := c.Lookup(context.Background(), "a", "op")
	assert.Error(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}
