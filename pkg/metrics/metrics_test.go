package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.ObserveRequest("doc_update", "exact")
	c.ObserveRequest("doc_update", "exact")
	c.ObserveCacheLookup("semantic", false)
	c.ObserveCacheLookup("exact", true)
	c.ObserveExecution("ollama", "ollama/qwen", time.Second, 10, 20, 0, nil)
	c.ObserveExecution("anthropic", "claude-sonnet-4-6", time.Second, 1000, 1000, 0.018, nil)
	c.ObserveExecution("anthropic", "claude-sonnet-4-6", time.Second, 0, 0, 0, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("doc_update", "exact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("exact", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executionsTotal.WithLabelValues("anthropic", "error")))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("ollama/qwen", "out")))
	assert.InDelta(t, 0.018, testutil.ToFloat64(c.costTotal.WithLabelValues("claude-sonnet-4-6")), 1e-12)
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.ObserveDegradation("semantic_store")
	c.ObserveHTTP(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `switchboard_degradations_total{step="semantic_store"} 1`)
	assert.Contains(t, rec.Body.String(), "switchboard_http_requests_total")
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveRequest("x", "executed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.requestsTotal.WithLabelValues("x", "executed")))
}
