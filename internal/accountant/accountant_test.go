package accountant

import (
	"context"
	"testing"
	"time"

	"github.com/noeticlab/noesis/internal/registry"
	"github.com/noeticlab/noesis/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckAllowsWithinRunQuota(t *testing.T) {
	a := New(nil)
	stats := NewStats()
	quota := registry.Quota{MaxCallsPerRun: 2, MaxTokensPerRun: 1000}

	d, err := a.Check(context.Background(), registry.Premium, quota, stats, 100)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed, got denied: %s", d.Reason)
	}
}

func TestCheckDeniesOverCallsPerRun(t *testing.T) {
	a := New(nil)
	stats := NewStats()
	quota := registry.Quota{MaxCallsPerRun: 1}
	stats.add(registry.Premium, 1, 50)

	d, err := a.Check(context.Background(), registry.Premium, quota, stats, 10)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != "max_calls_per_run" {
		t.Fatalf("expected denial max_calls_per_run, got %+v", d)
	}
}

func TestCheckDeniesOverTokensPerRun(t *testing.T) {
	a := New(nil)
	stats := NewStats()
	quota := registry.Quota{MaxTokensPerRun: 100}
	stats.add(registry.Premium, 1, 90)

	d, err := a.Check(context.Background(), registry.Premium, quota, stats, 20)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != "max_tokens_per_run" {
		t.Fatalf("expected denial max_tokens_per_run, got %+v", d)
	}
}

func TestCheckDeniesOverCallsPerDay(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	a := New(s, WithClock(func() time.Time { return fixed }))
	stats := NewStats()
	quota := registry.Quota{MaxCallsPerDay: 1}

	if err := a.Commit(context.Background(), registry.Premium, 10, stats); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	d, err := a.Check(context.Background(), registry.Premium, quota, stats, 10)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != "max_calls_per_day" {
		t.Fatalf("expected denial max_calls_per_day, got %+v", d)
	}
}

func TestCommitIsMonotonicAndPersists(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	a := New(s, WithClock(func() time.Time { return fixed }))
	stats := NewStats()

	for i := 0; i < 3; i++ {
		if err := a.Commit(context.Background(), registry.Default, 20, stats); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	snap := stats.Snapshot()
	if snap[registry.Default].Calls != 3 || snap[registry.Default].Tokens != 60 {
		t.Errorf("unexpected in-run usage: %+v", snap[registry.Default])
	}

	usage, err := s.GetDailyUsage(context.Background(), "2026-07-30", string(registry.Default))
	if err != nil {
		t.Fatalf("GetDailyUsage: %v", err)
	}
	if usage.Calls != 3 || usage.Tokens != 60 {
		t.Errorf("unexpected persisted usage: %+v", usage)
	}
}

func TestCheckUnboundedQuotaAlwaysAllowed(t *testing.T) {
	a := New(nil)
	stats := NewStats()
	stats.add(registry.Local, 1000, 1000000)

	d, err := a.Check(context.Background(), registry.Local, registry.Quota{}, stats, 999999)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected unbounded quota to always allow, got %+v", d)
	}
}
