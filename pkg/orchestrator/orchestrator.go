// Package orchestrator runs the request pipeline: semantic cache, exact
// cache, backend selection, execution and accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/backend"
	"github.com/pario-ai/switchboard/pkg/brokererr"
	"github.com/pario-ai/switchboard/pkg/budget"
	"github.com/pario-ai/switchboard/pkg/cache/exact"
	"github.com/pario-ai/switchboard/pkg/cache/semantic"
	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/metrics"
	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/router"
)

const instrumentationName = "github.com/pario-ai/switchboard/pkg/orchestrator"

// Deps are the collaborators of an Orchestrator. Semantic, Budget and
// Metrics are optional.
type Deps struct {
	Router   *router.Router
	Ledger   ledger.Ledger
	Semantic *semantic.Cache
	Adapters []backend.Adapter
	Budget   *budget.Enforcer
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Orchestrator is stateless between requests; all state lives in the ledger
// and the semantic store. Identical concurrent requests are not deduplicated
// and may each pay for a real call.
type Orchestrator struct {
	router   *router.Router
	ledger   ledger.Ledger
	exact    *exact.Cache
	semantic *semantic.Cache
	adapters []backend.Adapter
	budget   *budget.Enforcer
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New wires an Orchestrator.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		router:   d.Router,
		ledger:   d.Ledger,
		exact:    exact.New(d.Ledger, d.Router),
		semantic: d.Semantic,
		adapters: d.Adapters,
		budget:   d.Budget,
		metrics:  d.Metrics,
		logger:   logger.Named("orchestrator"),
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Adapters returns the registered adapters in priority order.
func (o *Orchestrator) Adapters() []backend.Adapter { return o.adapters }

// Router returns the router.
func (o *Orchestrator) Router() *router.Router { return o.router }

type requestIDKey struct{}

// WithRequestID attaches a request id used in logs and spans.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Flatten joins message contents with single spaces. The result feeds the
// semantic cache only; hashing and billing use the structured messages.
func Flatten(messages []models.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, " ")
}

// Request runs req through the pipeline. Every failure is a *brokererr.Error.
func (o *Orchestrator) Request(ctx context.Context, req models.Request) (models.Response, error) {
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = WithRequestID(ctx, id)
	}
	if req.Model == "" {
		req.Model = "auto"
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.request",
		trace.WithAttributes(
			attribute.String("switchboard.request_id", id),
			attribute.String("switchboard.operation", req.Operation),
			attribute.String("switchboard.project", req.Project),
			attribute.String("switchboard.model_hint", req.Model),
		))
	defer span.End()

	log := o.logger.With(
		zap.String("request_id", id),
		zap.String("operation", req.Operation),
		zap.String("project", req.Project),
	)

	resp, err := o.run(ctx, req, log)
	if err != nil {
		berr := brokererr.Ensure(err, brokererr.StorageUnavailable, req.Operation)
		span.RecordError(berr)
		span.SetStatus(codes.Error, string(berr.Kind))
		log.Error("request failed", zap.String("kind", string(berr.Kind)), zap.Error(berr))
		return models.Response{}, berr
	}

	span.SetAttributes(
		attribute.String("switchboard.source", string(resp.Source)),
		attribute.String("switchboard.model", resp.Model),
		attribute.Float64("switchboard.cost_usd", resp.CostUSD),
	)
	if o.metrics != nil {
		o.metrics.ObserveRequest(req.Operation, string(resp.Source))
	}
	log.Info("request served",
		zap.String("source", string(resp.Source)),
		zap.String("model", resp.Model),
		zap.String("backend", resp.Backend),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Float64("cost_usd", resp.CostUSD))
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, req models.Request, log *zap.Logger) (models.Response, error) {
	if err := validate(req); err != nil {
		return models.Response{}, err
	}
	op := req.Operation

	// 1-2. Semantic cache.
	prompt := Flatten(req.Messages)
	if o.semantic != nil {
		m, err := o.semantic.Lookup(ctx, prompt, op)
		if err != nil {
			return models.Response{}, brokererr.Storage(op, err)
		}
		if o.metrics != nil {
			o.metrics.ObserveCacheLookup("semantic", m != nil)
		}
		if m != nil {
			hash := m.Entry.PromptHash
			if hash == "" {
				hash = exact.HashPrompt(req.Messages, req.System)
			}
			model := o.router.ResolveModel(op, req.Model)
			if err := o.exact.RecordHit(ctx, req.Project, op, model, hash, req.Notes); err != nil {
				return models.Response{}, brokererr.Storage(op, err)
			}
			if o.metrics != nil {
				o.metrics.ObserveSimilarity(m.Similarity)
			}
			log.Debug("semantic hit", zap.Float64("similarity", m.Similarity), zap.Int64("entry_id", m.Entry.ID))
			return models.Response{Text: m.Entry.ResponseText, Model: model, Source: models.SourceSemantic}, nil
		}
	}

	// 3-4. Exact cache.
	hash := exact.HashPrompt(req.Messages, req.System)
	log = log.With(zap.String("prompt_hash", hash))
	text, ok, err := o.exact.Lookup(ctx, hash, op)
	if err != nil {
		return models.Response{}, brokererr.Storage(op, err)
	}
	if o.metrics != nil {
		o.metrics.ObserveCacheLookup("exact", ok)
	}
	if ok {
		model := o.router.ResolveModel(op, req.Model)
		if err := o.exact.RecordHit(ctx, req.Project, op, model, hash, req.Notes); err != nil {
			return models.Response{}, brokererr.Storage(op, err)
		}
		log.Debug("exact hit")
		return models.Response{Text: text, Model: model, Source: models.SourceExact}, nil
	}

	// Budgets only gate real executions.
	if o.budget != nil {
		if err := o.budget.Check(ctx, req.Project); err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				return models.Response{}, brokererr.New(brokererr.BudgetExceeded, op, err)
			}
			return models.Response{}, brokererr.Storage(op, err)
		}
	}

	// 5. Backend selection.
	adapters, err := o.candidates(req)
	if err != nil {
		return models.Response{}, err
	}
	adapter, err := o.router.SelectBackend(ctx, op, adapters, req.Model)
	if err != nil {
		return models.Response{}, err
	}
	model := o.router.ModelFor(adapter, o.router.ResolveModel(op, req.Model))

	// 6. Execution.
	res, err := o.execute(ctx, adapter, backend.Call{
		Messages:  req.Messages,
		System:    req.System,
		Model:     model,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		berr := brokererr.Ensure(err, brokererr.BackendExecutionFailed, op)
		if berr.Backend == "" {
			berr.Backend = adapter.Name()
		}
		if berr.Model == "" {
			berr.Model = model
		}
		return models.Response{}, berr
	}

	// 7. Ledger record, unconditionally. The response is only kept when the
	// operation allows reuse.
	ttl := o.router.TTLHours(op)
	entry := models.LedgerEntry{
		Project:    req.Project,
		Operation:  op,
		Model:      res.Model,
		Backend:    adapter.Name(),
		TokensIn:   res.TokensIn,
		TokensOut:  res.TokensOut,
		CostUSD:    res.CostUSD,
		PromptHash: hash,
		Notes:      req.Notes,
	}
	if ttl > 0 && res.Text != "" {
		entry.ResponseText = &res.Text
	}
	if _, err := o.exact.Store(ctx, entry); err != nil {
		log.Error("real call not recorded",
			zap.String("backend", adapter.Name()),
			zap.String("model", res.Model),
			zap.Float64("cost_usd", res.CostUSD),
			zap.Int("response_bytes", len(res.Text)))
		return models.Response{}, brokererr.Storage(op, err)
	}

	// 8. Semantic store, best effort. Empty answers are never reused.
	if ttl > 0 && res.Text != "" && o.semantic != nil {
		if err := o.semantic.Store(ctx, prompt, res.Text, op, res.Model, hash); err != nil {
			if o.metrics != nil {
				o.metrics.ObserveDegradation("semantic_store")
			}
			log.Warn("semantic store failed", zap.Error(err))
		}
	}

	return models.Response{
		Text:      res.Text,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		Model:     res.Model,
		CostUSD:   res.CostUSD,
		Backend:   adapter.Name(),
		Source:    models.SourceExecuted,
	}, nil
}

func (o *Orchestrator) execute(ctx context.Context, a backend.Adapter, call backend.Call) (backend.Result, error) {
	ctx, span := o.tracer.Start(ctx, "backend.execute",
		trace.WithAttributes(
			attribute.String("switchboard.backend", a.Name()),
			attribute.String("switchboard.backend_kind", a.Kind().String()),
			attribute.String("switchboard.model", call.Model),
		))
	defer span.End()

	start := time.Now()
	res, err := a.Execute(ctx, call)
	if o.metrics != nil {
		o.metrics.ObserveExecution(a.Name(), res.Model, time.Since(start), res.TokensIn, res.TokensOut, res.CostUSD, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return res, err
	}
	span.SetAttributes(
		attribute.Int("switchboard.tokens_in", res.TokensIn),
		attribute.Int("switchboard.tokens_out", res.TokensOut),
	)
	return res, nil
}

// candidates narrows the adapters to the one named in req.Backend, if any.
func (o *Orchestrator) candidates(req models.Request) ([]backend.Adapter, error) {
	if req.Backend == "" {
		return o.adapters, nil
	}
	for _, a := range o.adapters {
		if a.Name() == req.Backend {
			return []backend.Adapter{a}, nil
		}
	}
	names := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		names[i] = a.Name()
	}
	return nil, brokererr.New(brokererr.InvalidRequest, req.Operation,
		fmt.Errorf("unknown backend %q (registered: %s)", req.Backend, strings.Join(names, ", ")))
}

func validate(req models.Request) error {
	if strings.TrimSpace(req.Operation) == "" {
		return brokererr.New(brokererr.InvalidRequest, "", errors.New("operation is required"))
	}
	if len(req.Messages) == 0 {
		return brokererr.New(brokererr.InvalidRequest, req.Operation, errors.New("at least one message is required"))
	}
	return nil
}
