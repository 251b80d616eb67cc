// Package server exposes the request pipeline and its reports over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/brokererr"
	"github.com/pario-ai/switchboard/pkg/budget"
	"github.com/pario-ai/switchboard/pkg/cache/semantic"
	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/metrics"
	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/orchestrator"
	"github.com/pario-ai/switchboard/pkg/router"
)

const maxBodyBytes = 4 << 20

// Deps are the collaborators of a Server. Semantic, Budget and Metrics are
// optional.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       ledger.Ledger
	Semantic     *semantic.Cache
	Budget       *budget.Enforcer
	Metrics      *metrics.Collector
	Logger       *zap.Logger

	Listen    string
	RateLimit float64
	Burst     int
}

// Server is the Switchboard HTTP API.
type Server struct {
	orch     *orchestrator.Orchestrator
	ledger   ledger.Ledger
	semantic *semantic.Cache
	budget   *budget.Enforcer
	metrics  *metrics.Collector
	logger   *zap.Logger
	listen   string
	handler  http.Handler
	now      func() time.Time
}

// New creates a Server wired with all dependencies.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:     d.Orchestrator,
		ledger:   d.Ledger,
		semantic: d.Semantic,
		budget:   d.Budget,
		metrics:  d.Metrics,
		logger:   logger.Named("server"),
		listen:   d.Listen,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/requests", s.handleRequest)
	mux.HandleFunc("GET /v1/spend", s.handleSpend)
	mux.HandleFunc("GET /v1/spend/models", s.handleSpendModels)
	mux.HandleFunc("GET /v1/spend/operations", s.handleSpendOperations)
	mux.HandleFunc("GET /v1/cache/entries", s.handleCacheEntries)
	mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("GET /v1/routes", s.handleRoutes)
	mux.HandleFunc("GET /v1/routes/{operation}", s.handleRoute)
	mux.HandleFunc("GET /v1/budget", s.handleBudget)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	s.handler = Chain(mux,
		Recovery(s.logger),
		RequestID(),
		Tracing(),
		Logging(s.logger),
		RateLimit(d.RateLimit, d.Burst),
		Metrics(d.Metrics),
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("switchboard listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(brokererr.InvalidRequest), Message: "failed to read request body"})
		return
	}
	var req models.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(brokererr.InvalidRequest), Message: "invalid request body: " + err.Error()})
		return
	}

	resp, err := s.orch.Request(r.Context(), req)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	w.Header().Set("X-Switchboard-Source", string(resp.Source))
	writeJSON(w, http.StatusOK, resp)
}

// spendFilter reads window, since, until, project and model query parameters.
func (s *Server) spendFilter(r *http.Request) (models.SpendFilter, error) {
	q := r.URL.Query()
	f := models.SpendFilter{Project: q.Get("project"), Model: q.Get("model")}

	since, err := ledger.WindowStart(q.Get("window"), s.now())
	if err != nil {
		return f, err
	}
	f.Since = since
	if v := q.Get("since"); v != "" {
		if f.Since, err = ledger.ParseSince(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("until"); v != "" {
		if f.Until, err = ledger.ParseSince(v); err != nil {
			return f, err
		}
	}
	return f, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

type spendResponse struct {
	Summary models.SpendSummary  `json:"summary"`
	Recent  []models.LedgerEntry `json:"recent"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	f, err := s.spendFilter(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, err := queryLimit(r, 15)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	sum, err := s.ledger.Summary(r.Context(), f)
	if err != nil {
		s.storageError(w, err)
		return
	}
	recent, err := s.ledger.Recent(r.Context(), f, limit)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spendResponse{Summary: sum, Recent: recent})
}

func (s *Server) handleSpendModels(w http.ResponseWriter, r *http.Request) {
	f, err := s.spendFilter(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rows, err := s.ledger.ByModel(r.Context(), f)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSpendOperations(w http.ResponseWriter, r *http.Request) {
	f, err := s.spendFilter(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	limit, err := queryLimit(r, 20)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rows, err := s.ledger.TopOperations(r.Context(), f, limit)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 30)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rows, err := s.ledger.CachedEntries(r.Context(), limit)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type cacheStatsResponse struct {
	Exact    models.CacheStats     `json:"exact"`
	Semantic *models.SemanticStats `json:"semantic,omitempty"`
	Routes   []router.RouteInfo    `json:"routes"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	policy := s.orch.Router().Policy()
	st, err := s.ledger.CacheStats(r.Context(), policy.MinPositiveTTL())
	if err != nil {
		s.storageError(w, err)
		return
	}
	out := cacheStatsResponse{Exact: st, Routes: policy.Table()}
	if s.semantic != nil {
		sem, err := s.semantic.Stats(r.Context())
		if err != nil {
			s.storageError(w, err)
			return
		}
		out.Semantic = &sem
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Router().Policy().Table())
}

type routeResponse struct {
	router.RouteInfo
	Usage models.UsageSplit `json:"usage"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	policy := s.orch.Router().Policy()
	usage, err := s.ledger.UsageSplit(r.Context(), policy.LocalPrefix)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{RouteInfo: policy.Describe(r.PathValue("operation")), Usage: usage})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeJSON(w, http.StatusOK, []models.BudgetStatus{})
		return
	}
	st, err := s.budget.Status(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.orch.Adapters()))
	for _, a := range s.orch.Adapters() {
		names = append(names, a.Name())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "backends": names})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	s.logger.Error("report query failed", zap.Error(err))
	writePipelineError(w, brokererr.Storage("", err))
}

type errorBody struct {
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Operation string   `json:"operation,omitempty"`
	Backend   string   `json:"backend,omitempty"`
	Model     string   `json:"model,omitempty"`
	Checked   []string `json:"checked,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind brokererr.Kind) int {
	switch kind {
	case brokererr.InvalidRequest:
		return http.StatusBadRequest
	case brokererr.BudgetExceeded:
		return http.StatusTooManyRequests
	case brokererr.BackendExecutionFailed:
		return http.StatusBadGateway
	case brokererr.NoBackendAvailable, brokererr.EmbeddingUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writePipelineError(w http.ResponseWriter, err error) {
	berr := brokererr.Ensure(err, brokererr.StorageUnavailable, "")
	msg := berr.Error()
	if berr.Err != nil {
		msg = berr.Err.Error()
	}
	writeError(w, StatusFor(berr.Kind), errorBody{
		Kind:      string(berr.Kind),
		Message:   msg,
		Operation: berr.Operation,
		Backend:   berr.Backend,
		Model:     berr.Model,
		Checked:   berr.Checked,
	})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, errorBody{Kind: string(brokererr.InvalidRequest), Message: err.Error()})
}

func writeError(w http.ResponseWriter, code int, body errorBody) {
	writeJSON(w, code, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
