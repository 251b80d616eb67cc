// Package router maps operations to models and picks the backend adapter
// for a request.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/backend"
	"github.com/pario-ai/switchboard/pkg/brokererr"
)

// Router resolves models and selects adapters for a static Policy.
type Router struct {
	policy       Policy
	probeTimeout time.Duration
	logger       *zap.Logger
}

// New creates a Router. probeTimeout bounds each availability probe.
func New(p Policy, probeTimeout time.Duration, logger *zap.Logger) *Router {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{policy: NewPolicy(p), probeTimeout: probeTimeout, logger: logger.Named("router")}
}

// Policy returns the routing policy.
func (r *Router) Policy() Policy { return r.policy }

// TTLHours implements the exact cache's TTL policy.
func (r *Router) TTLHours(operation string) int { return r.policy.TTLHours(operation) }

// ResolveModel picks the model for operation. A hint of "" or "auto" uses the
// policy destination; any other hint is itself the destination.
func (r *Router) ResolveModel(operation, hint string) string {
	return r.policy.Normalize(r.destination(operation, hint))
}

func (r *Router) destination(operation, hint string) string {
	if hint == "" || hint == "auto" {
		return r.policy.Destination(operation)
	}
	return hint
}

var (
	localOrder = []backend.Kind{backend.LocalServer, backend.CLI, backend.API}
	cloudOrder = []backend.Kind{backend.CLI, backend.API, backend.LocalServer}
)

// SelectBackend returns the first available adapter in cost order:
//
//   - hint "<prefix>/model": only local server adapters qualify; none available is an error
//   - local-class destination: local server, then CLI, then API
//   - cloud-class destination: CLI, then API, then local server
//
// Within a kind adapters are tried in the order given. Probes run one at a
// time, each bounded by the probe timeout, and each adapter is probed at most
// once per call.
func (r *Router) SelectBackend(ctx context.Context, operation string, adapters []backend.Adapter, hint string) (backend.Adapter, error) {
	p := newProber(ctx, r.probeTimeout)

	if strings.HasPrefix(hint, r.policy.LocalPrefix+"/") {
		for i, a := range adapters {
			if a.Kind() == backend.LocalServer && p.available(i, a) {
				return a, nil
			}
		}
		return nil, &brokererr.Error{
			Kind:      brokererr.NoBackendAvailable,
			Operation: operation,
			Model:     hint,
			Checked:   p.checked,
			Err:       fmt.Errorf("local model %s was requested explicitly and no local server is available", hint),
		}
	}

	resolved := r.ResolveModel(operation, hint)
	order, class := cloudOrder, "cloud"
	if r.policy.IsLocal(resolved) {
		order, class = localOrder, "local"
	}

	for _, kind := range order {
		for i, a := range adapters {
			if a.Kind() == kind && p.available(i, a) {
				r.logger.Debug("backend selected",
					zap.String("operation", operation),
					zap.String("class", class),
					zap.String("backend", a.Name()))
				return a, nil
			}
		}
	}

	// Adapters of other kinds, in the order given.
	for i, a := range adapters {
		if p.available(i, a) {
			return a, nil
		}
	}

	return nil, &brokererr.Error{
		Kind:      brokererr.NoBackendAvailable,
		Operation: operation,
		Model:     resolved,
		Checked:   p.checked,
		Err:       fmt.Errorf("no available backend for %s model %s", class, resolved),
	}
}

// ModelFor returns the model to send to adapter a for a request resolved to
// model. A cloud adapter handling a local-class request gets the cloud
// fallback model, and a local server handling a cloud-class request gets the
// primary local model.
func (r *Router) ModelFor(a backend.Adapter, model string) string {
	local := r.policy.IsLocal(model)
	switch {
	case a.Kind() == backend.LocalServer && !local:
		return r.policy.PrimaryLocalModel()
	case a.Kind() != backend.LocalServer && local:
		return r.policy.Normalize(r.policy.CloudFallback)
	default:
		return model
	}
}

// prober memoizes availability per adapter index for one selection.
type prober struct {
	ctx     context.Context
	timeout time.Duration
	seen    map[int]bool
	checked []string
}

func newProber(ctx context.Context, timeout time.Duration) *prober {
	return &prober{ctx: ctx, timeout: timeout, seen: make(map[int]bool)}
}

// available probes a with the probe timeout. A probe that ignores its
// context counts as unavailable once the timeout passes.
func (p *prober) available(i int, a backend.Adapter) bool {
	if ok, done := p.seen[i]; done {
		return ok
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	res := make(chan bool, 1)
	go func() { res <- a.Available(ctx) }()

	var ok bool
	select {
	case ok = <-res:
	case <-ctx.Done():
	}
	p.seen[i] = ok
	p.checked = append(p.checked, a.Name())
	return ok
}
