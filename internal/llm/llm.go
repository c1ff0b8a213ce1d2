// Package llm defines the external capability traits the core consumes
// from excluded subsystems: LLM completion, retrieval, observer-context
// snapshotting, and rendering. Concrete provider wire clients are outside
// this repo's scope; this package carries only the contracts and the
// terminal output shape the router produces.
package llm

import (
	"context"
	"time"

	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/registry"
)

// CompletionRequest is the router's unit of work.
type CompletionRequest struct {
	Prompt         string
	MaxOutputTokens int
	Temperature    float64
	StopSequences  []string
	Meta           classifier.RequestMeta
}

// Output is the terminal result of a completed call, successful or
// partially so.
type Output struct {
	Text         string
	TokensIn     int
	TokensOut    int
	ProviderID   string
	Tier         registry.Tier
	LatencyMs    int64
	AttemptCount int
}

// ErrorClass distinguishes transient provider failures (worth retrying on
// the same provider) from permanent ones (skip straight to the next
// candidate, no retry).
type ErrorClass int

const (
	ErrTransient ErrorClass = iota
	ErrPermanent
)

// ClassifiedError tags a provider error with its retry disposition.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Client is the per-provider completion capability the router dispatches
// to. Implementations live outside this repo (concrete wire clients are a
// Non-goal); Complete returns a *ClassifiedError on failure so the router
// can decide whether to retry.
type Client interface {
	ProviderID() string
	Complete(ctx context.Context, req CompletionRequest) (Output, error)
}

// Passage is one retrieved unit of supporting material.
type Passage struct {
	Source string
	Text   string
}

// Retriever fetches supporting material for a question within a time
// budget. A timeout yields an empty result set, not an error, so the
// orchestrator proceeds with no passages; it logs no warning for this, and
// any error Retrieve does return fails the run's retrieve phase.
type Retriever interface {
	Retrieve(ctx context.Context, question string, budget time.Duration) ([]Passage, error)
}

// ObserverCtx is an opaque structured snapshot from an external
// sensor/context capability (e.g. prior session state, environment facts).
type ObserverCtx interface {
	Snapshot(ctx context.Context) (map[string]any, error)
}

// Renderer optionally converts a markdown draft into a derivative artifact
// (PDF, LaTeX, ...), invoked by the Artifact Writer (C10) if configured.
type Renderer interface {
	Render(ctx context.Context, markdown string, outputPath string) error
}
