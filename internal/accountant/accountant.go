// Package accountant implements the Usage Accountant (C4): a thin,
// mutex-guarded capability over LlmCallsStats that the router consults
// before every call and updates after every terminal outcome. Per-day
// counters persist across process restarts; per-run counters live only in
// memory and are flushed into the run report at the end of a run.
package accountant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noeticlab/noesis/internal/registry"
	"github.com/noeticlab/noesis/internal/store"
)

// TierUsage is the {calls, tokens} pair tracked for one tier.
type TierUsage struct {
	Calls  int64
	Tokens int64
}

// LlmCallsStats is the mutable, per-run usage ledger. Every field is
// monotonic non-decreasing for the lifetime of a run.
type LlmCallsStats struct {
	mu    sync.Mutex
	usage map[registry.Tier]TierUsage
}

// NewStats returns an empty per-run ledger.
func NewStats() *LlmCallsStats {
	return &LlmCallsStats{usage: make(map[registry.Tier]TierUsage)}
}

// Snapshot returns a copy of the current per-tier usage, safe to embed in a
// RunReport.
func (s *LlmCallsStats) Snapshot() map[registry.Tier]TierUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[registry.Tier]TierUsage, len(s.usage))
	for t, u := range s.usage {
		out[t] = u
	}
	return out
}

func (s *LlmCallsStats) get(tier registry.Tier) TierUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[tier]
}

func (s *LlmCallsStats) add(tier registry.Tier, calls, tokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage[tier]
	u.Calls += calls
	u.Tokens += tokens
	s.usage[tier] = u
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Reason  string // populated iff !Allowed
}

// Accountant enforces registry.Quota against an in-memory per-run ledger and
// a persisted per-day ledger (treated as per-host, per §9's resolved open
// question).
type Accountant struct {
	store store.Store
	now   func() time.Time
}

// Option configures optional Accountant behaviour.
type Option func(*Accountant)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) { a.now = now }
}

// New creates an Accountant backed by the given store for per-day counters.
func New(s store.Store, opts ...Option) *Accountant {
	a := &Accountant{store: s, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check reports whether a call projected to consume projectedTokens tokens
// in the given tier would stay within quota. It consults both the per-run
// ledger and, if the store is configured, the persisted per-day ledger.
func (a *Accountant) Check(ctx context.Context, tier registry.Tier, quota registry.Quota, stats *LlmCallsStats, projectedTokens int64) (Decision, error) {
	current := stats.get(tier)

	if quota.MaxCallsPerRun > 0 && current.Calls+1 > quota.MaxCallsPerRun {
		return Decision{Allowed: false, Reason: "max_calls_per_run"}, nil
	}
	if quota.MaxTokensPerRun > 0 && current.Tokens+projectedTokens > quota.MaxTokensPerRun {
		return Decision{Allowed: false, Reason: "max_tokens_per_run"}, nil
	}

	if quota.MaxCallsPerDay > 0 && a.store != nil {
		day := a.now().UTC().Format("2006-01-02")
		usage, err := a.store.GetDailyUsage(ctx, day, string(tier))
		if err != nil {
			return Decision{}, fmt.Errorf("accountant: load daily usage: %w", err)
		}
		if usage.Calls+1 > quota.MaxCallsPerDay {
			return Decision{Allowed: false, Reason: "max_calls_per_day"}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// Commit records a completed call against both the per-run ledger and, if
// configured, the persisted per-day ledger. It is invoked only after a
// terminal successful completion, or a partial-output failure where tokens
// were produced.
func (a *Accountant) Commit(ctx context.Context, tier registry.Tier, tokens int64, stats *LlmCallsStats) error {
	stats.add(tier, 1, tokens)

	if a.store == nil {
		return nil
	}
	day := a.now().UTC().Format("2006-01-02")
	if err := a.store.IncrDailyUsage(ctx, day, string(tier), 1, tokens); err != nil {
		return fmt.Errorf("accountant: commit daily usage: %w", err)
	}
	return nil
}
