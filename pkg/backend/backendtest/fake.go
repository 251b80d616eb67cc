// Package backendtest provides a scriptable backend.Adapter for tests.
package backendtest

import (
	"context"
	"sync"

	"github.com/pario-ai/switchboard/pkg/backend"
	"github.com/pario-ai/switchboard/pkg/models"
)

// Fake is an in-memory adapter. Zero Result text defaults to "ok".
type Fake struct {
	AdapterName string
	AdapterKind backend.Kind
	Up          bool
	Result      backend.Result
	Err         error
	// Hang makes Available block until its context is done.
	Hang bool
	// Rates is what Pricing reports for every model.
	Rates models.ModelPricing
	// Empty makes Execute return an empty text instead of the "ok" default.
	Empty bool

	mu     sync.Mutex
	calls  []backend.Call
	probes int
}

// New returns a Fake of the given kind.
func New(name string, kind backend.Kind, up bool) *Fake {
	return &Fake{AdapterName: name, AdapterKind: kind, Up: up}
}

func (f *Fake) Name() string       { return f.AdapterName }
func (f *Fake) Kind() backend.Kind { return f.AdapterKind }

func (f *Fake) Pricing(string) models.ModelPricing { return f.Rates }

func (f *Fake) Available(ctx context.Context) bool {
	f.mu.Lock()
	f.probes++
	f.mu.Unlock()
	if f.Hang {
		<-ctx.Done()
		return true
	}
	return f.Up
}

func (f *Fake) Execute(_ context.Context, call backend.Call) (backend.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.Err != nil {
		return backend.Result{}, f.Err
	}
	res := f.Result
	if res.Text == "" && !f.Empty {
		res.Text = "ok"
	}
	if res.Model == "" {
		res.Model = call.Model
	}
	return res, nil
}

// Calls returns the executed calls.
func (f *Fake) Calls() []backend.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Call(nil), f.calls...)
}

// Probes returns how many times Available was called.
func (f *Fake) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}
