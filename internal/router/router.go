// Package router implements the Tiered Router (C3): candidate selection
// across provider tiers, quota-aware filtering, bounded retry with jittered
// backoff, and graceful fallback across the candidate list. It is the only
// component that talks to an llm.Client directly.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/events"
	"github.com/noeticlab/noesis/internal/health"
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/metrics"
	"github.com/noeticlab/noesis/internal/registry"
)

// RoutingErrorKind enumerates the RoutingError variants from the error
// taxonomy (§7).
type RoutingErrorKind string

const (
	NoEligibleProvider RoutingErrorKind = "no_eligible_provider"
	TierExhausted      RoutingErrorKind = "tier_exhausted"
)

// RoutingError is returned by ChooseAndComplete when no call could be
// completed.
type RoutingError struct {
	Kind RoutingErrorKind
	Tier registry.Tier
}

func (e *RoutingError) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("routing error: %s (tier=%s)", e.Kind, e.Tier)
	}
	return fmt.Sprintf("routing error: %s", e.Kind)
}

// Config configures retry behaviour and per-provider quotas.
type Config struct {
	Attempts      int // N in §4.3, default 3
	BaseBackoffMs int
	QuotaByTier   map[registry.Tier]registry.Quota
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Attempts:      3,
		BaseBackoffMs: 200,
		QuotaByTier:   map[registry.Tier]registry.Quota{},
	}
}

// Router implements choose_and_complete.
type Router struct {
	reg        *registry.Registry
	accountant *accountant.Accountant
	clients    map[string]llm.Client
	throttle   *Throttle
	cfg        Config
	sleep      func(d time.Duration)
	jitter     func() float64 // returns a value in [0.75, 1.25)
	metrics    *metrics.Registry
	bus        *events.Bus
}

// Option configures optional Router construction behaviour.
type Option func(*Router)

// WithThrottle attaches a per-tier token-bucket throttle.
func WithThrottle(t *Throttle) Option {
	return func(r *Router) { r.throttle = t }
}

// WithSleep overrides the backoff sleep function, for deterministic tests.
func WithSleep(fn func(d time.Duration)) Option {
	return func(r *Router) { r.sleep = fn }
}

// WithJitter overrides the jitter source, for deterministic tests.
func WithJitter(fn func() float64) Option {
	return func(r *Router) { r.jitter = fn }
}

// WithMetrics attaches a Prometheus registry; every call, quota denial, and
// retry is instrumented against it when set.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Router) { r.metrics = m }
}

// WithEventBus attaches an event bus; every terminal provider call outcome
// is published to it as EventRouteSuccess/EventRouteError when set.
func WithEventBus(b *events.Bus) Option {
	return func(r *Router) { r.bus = b }
}

// New creates a Router over the given registry, accountant, and provider
// clients (keyed by provider id).
func New(reg *registry.Registry, acc *accountant.Accountant, clients map[string]llm.Client, cfg Config, opts ...Option) *Router {
	r := &Router{
		reg:        reg,
		accountant: acc,
		clients:    clients,
		cfg:        cfg,
		sleep:      time.Sleep,
		jitter:     func() float64 { return 0.75 + rand.Float64()*0.5 },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tierSearchOrder builds the ordered list of tiers to search, per §4.3 step
// 1: mandatory tier alone if set, else preferred → Default → Local, with
// Local appended only when intent.AllowLocalFallback is set.
func tierSearchOrder(intent classifier.RoutingIntent) []registry.Tier {
	if intent.MandatoryTier != "" {
		return []registry.Tier{intent.MandatoryTier}
	}
	order := []registry.Tier{intent.PreferredTier}
	if intent.PreferredTier != registry.Default {
		order = append(order, registry.Default)
	}
	if intent.AllowLocalFallback && intent.PreferredTier != registry.Local {
		order = append(order, registry.Local)
	}
	return order
}

// ChooseAndComplete is the router's public contract. It derives a routing
// intent from req.Meta, builds an ordered candidate list, executes the call
// with retry and fallback, and commits usage to stats on any terminal
// outcome.
func (r *Router) ChooseAndComplete(ctx context.Context, req llm.CompletionRequest, stats *accountant.LlmCallsStats) (llm.Output, error) {
	intent := classifier.Classify(req.Meta)
	tiers := tierSearchOrder(intent)

	for _, tier := range tiers {
		quota := r.cfg.QuotaByTier[tier]
		eligible := r.reg.EnumerateHealthy(tier)

		// Step 2: context-window feasibility.
		filtered := eligible[:0:0]
		for _, c := range eligible {
			if c.Handle.SupportedContextTokens >= req.Meta.EstimatedContextTokens {
				filtered = append(filtered, c)
			}
		}

		// Step 3: quota filtering.
		withinQuota := make([]registry.HealthyCandidate, 0, len(filtered))
		for _, c := range filtered {
			decision, err := r.accountant.Check(ctx, tier, quota, stats, int64(req.MaxOutputTokens))
			if err != nil {
				return llm.Output{}, fmt.Errorf("router: quota check: %w", err)
			}
			if decision.Allowed {
				withinQuota = append(withinQuota, c)
			} else if r.metrics != nil {
				r.metrics.QuotaDeniedTotal.WithLabelValues(string(tier), decision.Reason).Inc()
			}
		}

		// Step 4: stable-sort by (health, latency bucket) and drop Down
		// candidates; a mandatory tier left with only Down ones fails below
		// with TierExhausted.
		sort.SliceStable(withinQuota, func(i, j int) bool {
			if withinQuota[i].State != withinQuota[j].State {
				return healthRank(withinQuota[i].State) < healthRank(withinQuota[j].State)
			}
			if withinQuota[i].Handle.EstimatedLatencyBucket != withinQuota[j].Handle.EstimatedLatencyBucket {
				return withinQuota[i].Handle.EstimatedLatencyBucket < withinQuota[j].Handle.EstimatedLatencyBucket
			}
			return withinQuota[i].Handle.ID < withinQuota[j].Handle.ID
		})

		var upCandidates []registry.HealthyCandidate
		for _, c := range withinQuota {
			if !isDown(c.State) {
				upCandidates = append(upCandidates, c)
			}
		}

		if len(upCandidates) == 0 {
			if len(withinQuota) > 0 && intent.MandatoryTier == tier {
				return llm.Output{}, &RoutingError{Kind: TierExhausted, Tier: tier}
			}
			// No providers at all in this tier (or only Down ones in a
			// non-mandatory tier): fall through to the next tier in order.
			continue
		}

		out, err := r.tryCandidates(ctx, upCandidates, tier, req, stats)
		if err == nil {
			return out, nil
		}
		if intent.MandatoryTier == tier {
			return llm.Output{}, &RoutingError{Kind: TierExhausted, Tier: tier}
		}
		// Exhausted this tier's candidates without mandatory constraint:
		// continue to the next tier in the search order.
	}

	return llm.Output{}, &RoutingError{Kind: NoEligibleProvider}
}

func healthRank(s health.State) int {
	switch s {
	case health.StateHealthy:
		return 0
	case health.StateDegraded:
		return 1
	default:
		return 2
	}
}

func isDown(s health.State) bool {
	return s == health.StateDown
}

// tryCandidates walks an already-filtered, already-sorted candidate list for
// one tier, attempting each in turn with retry-on-transient, until one
// succeeds or the list is exhausted.
func (r *Router) tryCandidates(ctx context.Context, candidates []registry.HealthyCandidate, tier registry.Tier, req llm.CompletionRequest, stats *accountant.LlmCallsStats) (llm.Output, error) {
	for _, c := range candidates {
		if r.throttle != nil && !r.throttle.Allow(tier) {
			continue
		}
		client, ok := r.clients[c.Handle.ID]
		if !ok {
			continue
		}

		out, attempts, err := r.callWithRetry(ctx, client, req, tier)
		if err == nil {
			out.Tier = tier
			out.AttemptCount = attempts
			r.reg.Tracker().RecordSuccess(c.Handle.ID, float64(out.LatencyMs))
			if commitErr := r.accountant.Commit(ctx, tier, int64(out.TokensIn+out.TokensOut), stats); commitErr != nil {
				return llm.Output{}, commitErr
			}
			if r.metrics != nil {
				r.metrics.CallsTotal.WithLabelValues(string(tier), c.Handle.ID, "success").Inc()
				r.metrics.CallLatencyMs.WithLabelValues(string(tier), c.Handle.ID).Observe(float64(out.LatencyMs))
				r.metrics.TokensTotal.WithLabelValues(string(tier), c.Handle.ID).Add(float64(out.TokensIn + out.TokensOut))
			}
			if r.bus != nil {
				r.bus.Publish(events.Event{
					Type:       events.EventRouteSuccess,
					ProviderID: c.Handle.ID,
					Tier:       string(tier),
					LatencyMs:  float64(out.LatencyMs),
				})
			}
			return out, nil
		}

		r.reg.Tracker().RecordError(c.Handle.ID, err.Error())
		if r.metrics != nil {
			r.metrics.CallsTotal.WithLabelValues(string(tier), c.Handle.ID, "error").Inc()
		}
		if r.bus != nil {
			r.bus.Publish(events.Event{
				Type:       events.EventRouteError,
				ProviderID: c.Handle.ID,
				Tier:       string(tier),
				ErrorMsg:   err.Error(),
			})
		}
		// A permanent error is recorded through RecordError like any other
		// failure and the next candidate is tried. The provider becomes
		// Degraded only once the tracker's consecutive-error threshold is
		// reached; under health.DefaultConfig a single error does not mark it
		// Degraded. The retry loop inside callWithRetry has already exhausted
		// transient ones.
	}
	return llm.Output{}, errors.New("router: all candidates in tier exhausted")
}

// callWithRetry attempts one provider up to cfg.Attempts times, sleeping
// base_backoff_ms * 2^(attempt-1) with +-25% jitter between attempts, and
// retrying only on a transient classification.
func (r *Router) callWithRetry(ctx context.Context, client llm.Client, req llm.CompletionRequest, tier registry.Tier) (llm.Output, int, error) {
	attempts := r.cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := time.Duration(r.cfg.BaseBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		out, err := client.Complete(ctx, req)
		if err == nil {
			out.LatencyMs = time.Since(start).Milliseconds()
			return out, attempt, nil
		}
		lastErr = err

		var classified *llm.ClassifiedError
		if !errors.As(err, &classified) || classified.Class != llm.ErrTransient {
			return llm.Output{}, attempt, err
		}
		if attempt == attempts {
			break
		}
		if r.metrics != nil {
			r.metrics.RetriesTotal.WithLabelValues(string(tier), "transient").Inc()
		}

		delay := time.Duration(float64(base) * float64(uint(1)<<uint(attempt-1)) * r.jitter())
		select {
		case <-ctx.Done():
			return llm.Output{}, attempt, ctx.Err()
		default:
			r.sleep(delay)
		}
	}
	return llm.Output{}, attempts, lastErr
}
