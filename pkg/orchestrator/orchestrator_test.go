package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/switchboard/pkg/backend"
	"github.com/pario-ai/switchboard/pkg/backend/backendtest"
	"github.com/pario-ai/switchboard/pkg/brokererr"
	"github.com/pario-ai/switchboard/pkg/budget"
	"github.com/pario-ai/switchboard/pkg/cache/exact"
	"github.com/pario-ai/switchboard/pkg/cache/semantic"
	"github.com/pario-ai/switchboard/pkg/embedding"
	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/metrics"
	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/router"
)

func testPolicy() router.Policy {
	return router.Policy{
		Routes: map[string]string{
			"doc_update":  "local",
			"code_review": "sonnet",
			"explain":     "sonnet",
		},
		TTL: map[string]int{
			"doc_update":  24,
			"code_review": 0,
			"explain":     24,
		},
		DefaultDestination: "sonnet",
		DefaultTTL:         24,
		LocalDestinations:  map[string]string{"local": "qwen2.5-coder:14b"},
		LocalPrefix:        "ollama",
		Aliases:            map[string]string{"sonnet": "claude-sonnet-4-6"},
		CloudFallback:      "sonnet",
	}
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", embedding.ErrUnavailable, text)
	}
	return v, nil
}

type harness struct {
	orch   *Orchestrator
	ledger *ledger.SQLiteLedger
	local  *backendtest.Fake
	cli    *backendtest.Fake
	api    *backendtest.Fake
}

type option func(*Deps, *ledger.SQLiteLedger)

func withEmbedder(e embedding.Embedder) option {
	return func(d *Deps, l *ledger.SQLiteLedger) {
		d.Semantic = semantic.New(l.DB(), e, semantic.Options{}, nil)
	}
}

func withBudget(policies ...models.BudgetPolicy) option {
	return func(d *Deps, l *ledger.SQLiteLedger) {
		d.Budget = budget.New(policies, l)
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "switchboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	h := &harness{
		ledger: l,
		local:  backendtest.New("ollama", backend.LocalServer, true),
		cli:    backendtest.New("claude-code", backend.CLI, true),
		api:    backendtest.New("anthropic", backend.API, true),
	}
	h.local.Result = backend.Result{Text: "local answer", TokensIn: 10, TokensOut: 20}
	h.cli.Result = backend.Result{Text: "cli answer", TokensIn: 100, TokensOut: 50, CostUSD: 0.05}
	h.api.Result = backend.Result{Text: "api answer", TokensIn: 100, TokensOut: 50, CostUSD: 0.05}

	d := Deps{
		Router:   router.New(testPolicy(), 50*time.Millisecond, nil),
		Ledger:   l,
		Adapters: []backend.Adapter{h.local, h.cli, h.api},
		Metrics:  metrics.New(),
	}
	for _, o := range opts {
		o(&d, l)
	}
	h.orch = New(d)
	return h
}

type row struct {
	hash      string
	model     string
	tokensIn  int
	cost      float64
	response  *string
	hit       bool
	backend   *string
	operation string
}

func (h *harness) rows(t *testing.T) []row {
	t.Helper()
	rs, err := h.ledger.DB().Query(`SELECT prompt_hash, model, tokens_in, cost_usd, response_text, is_cache_hit, backend, operation
		FROM token_log ORDER BY id`)
	require.NoError(t, err)
	defer rs.Close()
	var out []row
	for rs.Next() {
		var r row
		require.NoError(t, rs.Scan(&r.hash, &r.model, &r.tokensIn, &r.cost, &r.response, &r.hit, &r.backend, &r.operation))
		out = append(out, r)
	}
	require.NoError(t, rs.Err())
	return out
}

func request(op, content string) models.Request {
	return models.Request{
		Messages:  []models.Message{{Role: "user", Content: content}},
		Operation: op,
		Project:   "switchboard",
	}
}

func TestNoBackendAvailableNamesOperation(t *testing.T) {
	h := newHarness(t)
	h.local.Up, h.cli.Up, h.api.Up = false, false, false

	_, err := h.orch.Request(context.Background(), request("doc_update", "update the README"))
	require.Error(t, err)
	assert.True(t, brokererr.Is(err, brokererr.NoBackendAvailable))

	var berr *brokererr.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "doc_update", berr.Operation)
	assert.ElementsMatch(t, []string{"ollama", "claude-code", "anthropic"}, berr.Checked)
	assert.Empty(t, h.rows(t))
}

func TestLocalExecutionThenExactHit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("doc_update", "update the README")

	first, err := h.orch.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SourceExecuted, first.Source)
	assert.Equal(t, "local answer", first.Text)
	assert.Equal(t, "ollama/qwen2.5-coder:14b", first.Model)
	assert.Equal(t, "ollama", first.Backend)
	assert.Zero(t, first.CostUSD)
	assert.Equal(t, 10, first.TokensIn)

	second, err := h.orch.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.SourceExact, second.Source)
	assert.Equal(t, "local answer", second.Text)
	assert.Zero(t, second.TokensIn)
	assert.Zero(t, second.TokensOut)
	assert.Zero(t, second.CostUSD)

	assert.Len(t, h.local.Calls(), 1)
	assert.Empty(t, h.cli.Calls())

	rows := h.rows(t)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].hit)
	require.NotNil(t, rows[0].response)
	assert.Equal(t, "local answer", *rows[0].response)
	require.NotNil(t, rows[0].backend)
	assert.Equal(t, "ollama", *rows[0].backend)
	assert.True(t, rows[1].hit)
	assert.Nil(t, rows[1].response)
	assert.Equal(t, rows[0].hash, rows[1].hash)
	assert.Equal(t, exact.HashPrompt(req.Messages, ""), rows[0].hash)
}

func TestReplayRecordsOneRealAndNHits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("explain", "what does this function do")

	const replays = 4
	for i := 0; i <= replays; i++ {
		_, err := h.orch.Request(ctx, req)
		require.NoError(t, err)
	}

	assert.Len(t, h.cli.Calls(), 1)
	rows := h.rows(t)
	require.Len(t, rows, replays+1)

	real, hits := 0, 0
	for _, r := range rows {
		assert.Equal(t, rows[0].hash, r.hash)
		if r.hit {
			hits++
			assert.Zero(t, r.cost)
			assert.Zero(t, r.tokensIn)
		} else {
			real++
		}
	}
	assert.Equal(t, 1, real)
	assert.Equal(t, replays, hits)

	sum, err := h.ledger.Summary(ctx, models.SpendFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Calls)
	assert.Equal(t, int64(replays), sum.CacheHits)
	assert.InDelta(t, 0.05*replays, sum.SavedUSD, 1e-9)
}

func TestSemanticParaphraseHit(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"how do I reverse a list":    {1, 0},
		"what is the way to reverse": {0.95, float32(math.Sqrt(1 - 0.95*0.95))},
	}}
	h := newHarness(t, withEmbedder(emb))
	ctx := context.Background()

	first, err := h.orch.Request(ctx, request("explain", "how do I reverse a list"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceExecuted, first.Source)

	second, err := h.orch.Request(ctx, request("explain", "what is the way to reverse"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceSemantic, second.Source)
	assert.Equal(t, "cli answer", second.Text)
	assert.Equal(t, "claude-sonnet-4-6", second.Model)
	assert.Len(t, h.cli.Calls(), 1)

	rows := h.rows(t)
	require.Len(t, rows, 2)
	assert.True(t, rows[1].hit)
	assert.Equal(t, rows[0].hash, rows[1].hash)
}

func TestEmptyAnswerIsNotReusedSemantically(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"update the changelog":  {1, 0},
		"refresh the changelog": {0.99995, float32(math.Sqrt(1 - 0.99995*0.99995))},
	}}
	h := newHarness(t, withEmbedder(emb))
	h.local.Result = backend.Result{}
	h.local.Empty = true
	ctx := context.Background()

	first, err := h.orch.Request(ctx, request("doc_update", "update the changelog"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceExecuted, first.Source)
	assert.Empty(t, first.Text)

	var stored int
	require.NoError(t, h.ledger.DB().QueryRow(`SELECT COUNT(*) FROM cache_embeddings`).Scan(&stored))
	assert.Zero(t, stored)

	second, err := h.orch.Request(ctx, request("doc_update", "refresh the changelog"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceExecuted, second.Source)
	assert.Len(t, h.local.Calls(), 2)
}

func TestSemanticSkippedForOtherOperation(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"summarize the diff": {1, 0}}}
	h := newHarness(t, withEmbedder(emb))
	ctx := context.Background()

	_, err := h.orch.Request(ctx, request("explain", "summarize the diff"))
	require.NoError(t, err)
	resp, err := h.orch.Request(ctx, request("doc_update", "summarize the diff"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceExecuted, resp.Source)
	assert.Len(t, h.local.Calls(), 1)
}

func TestZeroTTLNeverReuses(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"review this diff": {1, 0}}}
	h := newHarness(t, withEmbedder(emb))
	ctx := context.Background()
	req := request("code_review", "review this diff")

	for i := 0; i < 2; i++ {
		resp, err := h.orch.Request(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.SourceExecuted, resp.Source)
	}
	assert.Len(t, h.cli.Calls(), 2)

	rows := h.rows(t)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.False(t, r.hit)
		assert.Nil(t, r.response)
	}

	var stored int
	require.NoError(t, h.ledger.DB().QueryRow(`SELECT COUNT(*) FROM cache_embeddings`).Scan(&stored))
	assert.Zero(t, stored)
}

func TestStorageOutageIsNotAMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT response_text FROM token_log").WillReturnError(errors.New("disk I/O error"))

	cli := backendtest.New("claude-code", backend.CLI, true)
	orch := New(Deps{
		Router:   router.New(testPolicy(), 50*time.Millisecond, nil),
		Ledger:   ledger.New(db),
		Adapters: []backend.Adapter{cli},
	})

	_, err = orch.Request(context.Background(), request("explain", "anything"))
	require.Error(t, err)
	assert.True(t, brokererr.Is(err, brokererr.StorageUnavailable))
	assert.Empty(t, cli.Calls())
	assert.Zero(t, cli.Probes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureAfterExecution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT response_text FROM token_log").WillReturnRows(sqlmock.NewRows([]string{"response_text"}))
	mock.ExpectExec("INSERT INTO token_log").WillReturnError(errors.New("database is locked"))

	cli := backendtest.New("claude-code", backend.CLI, true)
	orch := New(Deps{
		Router:   router.New(testPolicy(), 50*time.Millisecond, nil),
		Ledger:   ledger.New(db),
		Adapters: []backend.Adapter{cli},
	})

	_, err = orch.Request(context.Background(), request("explain", "anything"))
	require.Error(t, err)
	assert.True(t, brokererr.Is(err, brokererr.StorageUnavailable))
	assert.Len(t, cli.Calls(), 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackendFailureDoesNotFallBack(t *testing.T) {
	h := newHarness(t)
	h.cli.Err = errors.New("exit status 1")

	_, err := h.orch.Request(context.Background(), request("explain", "explain this"))
	require.Error(t, err)
	assert.True(t, brokererr.Is(err, brokererr.BackendExecutionFailed))

	var berr *brokererr.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "claude-code", berr.Backend)
	assert.Equal(t, "claude-sonnet-4-6", berr.Model)
	assert.Equal(t, "explain", berr.Operation)

	assert.Empty(t, h.api.Calls())
	assert.Empty(t, h.local.Calls())
	assert.Empty(t, h.rows(t))
}

func TestBudgetBlocksRealCallsOnly(t *testing.T) {
	h := newHarness(t, withBudget(models.BudgetPolicy{Project: "switchboard", MaxCostUSD: 0.04, Period: models.BudgetDaily}))
	ctx := context.Background()

	_, err := h.orch.Request(ctx, request("explain", "first question"))
	require.NoError(t, err)

	_, err = h.orch.Request(ctx, request("explain", "second question"))
	require.Error(t, err)
	assert.True(t, brokererr.Is(err, brokererr.BudgetExceeded))
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)

	resp, err := h.orch.Request(ctx, request("explain", "first question"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceExact, resp.Source)
	assert.Len(t, h.cli.Calls(), 1)
}

func TestBackendFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := request("explain", "pin me to the api")
	req.Backend = "anthropic"
	resp, err := h.orch.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Backend)
	assert.Empty(t, h.cli.Calls())

	req = request("explain", "pin me nowhere")
	req.Backend = "mystery"
	_, err = h.orch.Request(ctx, req)
	assert.True(t, brokererr.Is(err, brokererr.InvalidRequest))
}

func TestForcedLocalHint(t *testing.T) {
	h := newHarness(t)
	req := request("explain", "local only")
	req.Model = "ollama/llama3"

	resp, err := h.orch.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Backend)
	assert.Equal(t, "ollama/llama3", resp.Model)

	h.local.Up = false
	req = request("explain", "local only again")
	req.Model = "ollama/llama3"
	_, err = h.orch.Request(context.Background(), req)
	assert.True(t, brokererr.Is(err, brokererr.NoBackendAvailable))
	assert.Empty(t, h.cli.Calls())
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Request(ctx, models.Request{Operation: "explain"})
	assert.True(t, brokererr.Is(err, brokererr.InvalidRequest))

	_, err = h.orch.Request(ctx, models.Request{Messages: []models.Message{{Role: "user", Content: "hi"}}})
	assert.True(t, brokererr.Is(err, brokererr.InvalidRequest))
}

func TestFlatten(t *testing.T) {
	got := Flatten([]models.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "bye"},
	})
	assert.Equal(t, "hello hi bye", got)
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}
