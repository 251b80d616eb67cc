// Package brokererr defines the structured error surfaced by the request pipeline.
package brokererr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure by the operator response it needs.
type Kind string

const (
	// StorageUnavailable means the ledger or semantic store failed. Never a cache miss.
	StorageUnavailable Kind = "storage_unavailable"
	// EmbeddingUnavailable means the embedding provider could not be reached.
	EmbeddingUnavailable Kind = "embedding_unavailable"
	// NoBackendAvailable means no adapter reported available at selection time.
	NoBackendAvailable Kind = "no_backend_available"
	// BackendExecutionFailed means the chosen adapter failed mid-call.
	BackendExecutionFailed Kind = "backend_execution_failed"
	// BudgetExceeded means a spend policy blocked a real execution.
	BudgetExceeded Kind = "budget_exceeded"
	// InvalidRequest means the caller sent an unusable request.
	InvalidRequest Kind = "invalid_request"
)

// Error is a classified pipeline error.
type Error struct {
	Kind      Kind
	Operation string
	Backend   string
	Model     string
	// Checked lists the adapters probed during backend selection.
	Checked []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Operation != "" {
		fmt.Fprintf(&b, " operation=%q", e.Operation)
	}
	if e.Backend != "" {
		fmt.Fprintf(&b, " backend=%q", e.Backend)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%q", e.Model)
	}
	if len(e.Checked) > 0 {
		fmt.Fprintf(&b, " checked=[%s]", strings.Join(e.Checked, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind wrapping err.
func New(kind Kind, operation string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// Storage wraps a store failure.
func Storage(operation string, err error) *Error {
	return New(StorageUnavailable, operation, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Ensure returns err as an *Error, classifying unknown errors with fallback.
func Ensure(err error, fallback Kind, operation string) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Operation == "" {
			e.Operation = operation
		}
		return e
	}
	return New(fallback, operation, err)
}
