// Package registry implements the Provider Registry (C1): the set of known
// LLM providers, each keyed by stable id and classified into one of four
// tiers. Health is tracked by internal/health and updated by the router as
// it observes call outcomes; registration order never affects selection.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/noeticlab/noesis/internal/appcfg"
	"github.com/noeticlab/noesis/internal/health"
	"github.com/noeticlab/noesis/internal/store"
	"github.com/noeticlab/noesis/internal/vault"
)

// Tier is a policy class of provider, not a specific vendor. Ordering is
// total between Default and Premium; Specialist is orthogonal to both;
// Local is the terminal, offline-capable fallback.
type Tier string

const (
	Default    Tier = "default"
	Premium    Tier = "premium"
	Specialist Tier = "specialist"
	Local      Tier = "local"
)

func (t Tier) valid() bool {
	switch t {
	case Default, Premium, Specialist, Local:
		return true
	}
	return false
}

// ProviderHandle describes one registered provider's static properties.
type ProviderHandle struct {
	ID                     string
	Tier                   Tier
	SupportedContextTokens int
	EstimatedLatencyBucket int // lower is faster; used for within-tier sort
}

// Quota mirrors the per-run/per-day knobs the Usage Accountant enforces
// against a provider's tier. A zero field means unbounded.
type Quota struct {
	MaxCallsPerRun  int64
	MaxTokensPerRun int64
	MaxCallsPerDay  int64
}

// entry bundles a handle with its credential provenance so enumerate_healthy
// and the router's candidate search never need a second lookup.
type entry struct {
	handle    ProviderHandle
	credBound bool // false when no decryptable credential exists → always Down
}

// Registry holds the known providers and their live health.
type Registry struct {
	tracker *health.Tracker
	store   store.Store
	vlt     *vault.Vault

	mu        sync.RWMutex
	providers map[string]entry
}

// Option configures optional Registry construction behaviour.
type Option func(*Registry)

// WithStore attaches a persistence layer; registration snapshots are
// upserted as providers are added so a restart can rehydrate from disk.
func WithStore(s store.Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithVault attaches a credential vault to the registry. The registry does
// not read it itself: ResolveCredential and LoadFromConfig take the vault
// as an explicit argument.
func WithVault(v *vault.Vault) Option {
	return func(r *Registry) { r.vlt = v }
}

// New creates an empty registry backed by the given health tracker.
func New(tracker *health.Tracker, opts ...Option) *Registry {
	r := &Registry{
		tracker:   tracker,
		providers: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a provider. credBound should be the outcome of
// resolving the provider's credential (env var set, or vault key
// decryptable); when false every selection path treats this provider as
// Down regardless of what the health tracker reports.
func (r *Registry) Register(h ProviderHandle, credBound bool) error {
	if !h.Tier.valid() {
		return fmt.Errorf("registry: invalid tier %q for provider %q", h.Tier, h.ID)
	}
	if h.ID == "" {
		return fmt.Errorf("registry: provider id must not be empty")
	}
	r.mu.Lock()
	r.providers[h.ID] = entry{handle: h, credBound: credBound}
	r.mu.Unlock()

	if r.store != nil {
		credStore := "env"
		if !credBound {
			credStore = "none"
		}
		if err := r.store.UpsertProvider(context.Background(), store.ProviderRecord{
			ID:        h.ID,
			Tier:      string(h.Tier),
			Enabled:   true,
			CredStore: credStore,
		}); err != nil {
			return fmt.Errorf("registry: persist provider %q: %w", h.ID, err)
		}
	}
	return nil
}

// ByID returns the handle for a provider id, or false if unknown.
func (r *Registry) ByID(id string) (ProviderHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.providers[id]
	return e.handle, ok
}

// ByTier returns every provider registered in the given tier, in a
// deterministic (lexicographic by id) order.
func (r *Registry) ByTier(tier Tier) []ProviderHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ProviderHandle
	for _, e := range r.providers {
		if e.handle.Tier == tier {
			out = append(out, e.handle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthyCandidate pairs a provider handle with its current health state,
// for the router's candidate-selection pass.
type HealthyCandidate struct {
	Handle ProviderHandle
	State  health.State
}

// EnumerateHealthy returns every provider in a tier along with its current
// health state. A provider with no bound credential is always reported
// StateDown, independent of what the tracker has observed, since it could
// never have successfully completed a call to earn a better state.
func (r *Registry) EnumerateHealthy(tier Tier) []HealthyCandidate {
	r.mu.RLock()
	entries := make([]entry, 0)
	for _, e := range r.providers {
		if e.handle.Tier == tier {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	out := make([]HealthyCandidate, 0, len(entries))
	for _, e := range entries {
		state := health.StateDown
		if e.credBound {
			state = r.tracker.GetStats(e.handle.ID).State
		}
		out = append(out, HealthyCandidate{Handle: e.handle, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle.ID < out[j].Handle.ID })
	return out
}

// Tracker exposes the underlying health tracker so the router can record
// call outcomes against it.
func (r *Registry) Tracker() *health.Tracker {
	return r.tracker
}

// ResolveCredential checks whether a configured provider credential can be
// bound: an env var credential is bound iff the variable is set and
// non-empty; a vault credential is bound iff the vault is unlocked and the
// key decrypts. Used at startup to decide whether a tier's providers start
// Up-eligible or permanently Down.
func ResolveCredential(cred appcfg.ProviderCredential, v *vault.Vault) (bool, error) {
	switch {
	case cred.EnvVar != "":
		return os.Getenv(cred.EnvVar) != "", nil
	case cred.VaultKey != "":
		if v == nil {
			return false, nil
		}
		if v.IsLocked() {
			return false, nil
		}
		if _, err := v.Get(cred.VaultKey); err != nil {
			return false, nil
		}
		return true, nil
	default:
		return false, fmt.Errorf("registry: provider %q names neither env_var nor vault_key", cred.ProviderID)
	}
}

// LoadFromConfig registers every provider named by cfg.ProviderCredentials,
// resolving each credential's availability before registering so a tier
// with no usable credential starts out fully Down.
func LoadFromConfig(r *Registry, cfg *appcfg.Config, v *vault.Vault, handles map[string]ProviderHandle) error {
	for _, cred := range cfg.ProviderCredentials {
		h, ok := handles[cred.ProviderID]
		if !ok {
			return fmt.Errorf("registry: no provider handle supplied for configured credential %q", cred.ProviderID)
		}
		bound, err := ResolveCredential(cred, v)
		if err != nil {
			return err
		}
		if h.Tier == Premium && !cfg.PremiumAllowed() {
			bound = false
		}
		if err := r.Register(h, bound); err != nil {
			return err
		}
	}
	return nil
}
