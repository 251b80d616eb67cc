package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "switchboard.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	v, err := Version(db)
	require.NoError(t, err)
	assert.Equal(t, uint(3), v)

	_, err = db.Exec(`INSERT INTO token_log (timestamp, project, operation, model, backend, notes)
		VALUES (?, 'p', 'op', 'm', 'ollama', 'n')`, FormatTime(time.Now()))
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO cache_embeddings (prompt_text, response_text, embedding, created_at)
		VALUES ('a', 'b', x'00000000', ?)`, FormatTime(time.Now()))
	require.NoError(t, err)
}

func TestOpenTwiceIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err := Version(db)
	require.NoError(t, err)
	assert.Equal(t, uint(3), v)
}

func TestFormatTimeOrdersLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := FormatTime(base)
	b := FormatTime(base.Add(time.Nanosecond))
	c := FormatTime(base.Add(time.Hour))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Len(t, a, len(TimeLayout))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	got, err := ParseTime(FormatTime(want))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = ParseTime("2026-03-01 09:30:00")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
