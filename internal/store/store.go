// Package store defines the persistence interface for data that must survive
// process restarts: per-day usage counters (the Usage Accountant's per-day
// quota boundary, §6 of the spec treats this as per-host), the encrypted
// vault blob, and provider registration snapshots.
package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for noesis.
type Store interface {
	// Providers
	ListProviders(ctx context.Context) ([]ProviderRecord, error)
	UpsertProvider(ctx context.Context, p ProviderRecord) error
	DeleteProvider(ctx context.Context, id string) error

	// Vault persistence (encrypted provider credentials).
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Per-day usage counters for the Usage Accountant (C4). IncrDailyUsage is
	// an atomic upsert: it creates the day's row on first use and adds to it
	// thereafter, so callers never need a read-modify-write race window.
	IncrDailyUsage(ctx context.Context, day string, tier string, calls int64, tokens int64) error
	GetDailyUsage(ctx context.Context, day string, tier string) (DailyUsage, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ProviderRecord is the persisted form of a registered provider.
type ProviderRecord struct {
	ID        string `json:"id"`
	Tier      string `json:"tier"` // default, premium, specialist, local
	Enabled   bool   `json:"enabled"`
	CredStore string `json:"cred_store"` // env, vault, none
}

// DailyUsage is the per-host, per-day, per-tier counter pair backing the
// Usage Accountant's max_calls_per_day quota.
type DailyUsage struct {
	Day   string `json:"day"` // YYYY-MM-DD, UTC
	Tier  string `json:"tier"`
	Calls int64  `json:"calls"`
	Tokens int64 `json:"tokens"`
}
