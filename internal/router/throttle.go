package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/noeticlab/noesis/internal/registry"
)

// Throttle is a per-tier rate limiter. Unlike a general-purpose limiter
// keyed by an unbounded client set, the key space here is the four fixed
// tiers, so there is no LRU eviction to manage — just one rate.Limiter per
// configured tier, built lazily on first SetTierLimit.
type Throttle struct {
	mu       sync.Mutex
	limiters map[registry.Tier]*rate.Limiter
	interval time.Duration
}

// NewThrottle creates a throttle whose per-tier rates are expressed as
// "tokens per interval" via SetTierLimit. A tier with no configured limit is
// always allowed.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		limiters: make(map[registry.Tier]*rate.Limiter),
		interval: interval,
	}
}

// SetTierLimit configures the rate (tokens added per interval) and burst
// (bucket capacity) for one tier. A rate of 0 means unlimited for that tier.
func (t *Throttle) SetTierLimit(tier registry.Tier, tokensPerInterval, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tokensPerInterval <= 0 {
		delete(t.limiters, tier)
		return
	}
	if burst <= 0 {
		burst = tokensPerInterval
	}
	limit := rate.Limit(float64(tokensPerInterval) / t.interval.Seconds())
	t.limiters[tier] = rate.NewLimiter(limit, burst)
}

// Allow reports whether a call against tier may proceed right now, consuming
// one token if so. A tier with no configured limit is always allowed.
func (t *Throttle) Allow(tier registry.Tier) bool {
	t.mu.Lock()
	l, ok := t.limiters[tier]
	t.mu.Unlock()
	if !ok {
		return true
	}
	return l.Allow()
}
