package circuitbreaker

import (
	"testing"
	"time"
)

func TestClosedBreakerDispatchesToTemporal(t *testing.T) {
	b := New()
	if !b.Allow() {
		t.Fatal("closed breaker should allow a pipeline run to dispatch via Temporal")
	}
	if b.CurrentState() != Closed {
		t.Fatalf("expected Closed, got %s", b.CurrentState())
	}
}

func TestBreakerTripsAfterConsecutiveDispatchFailures(t *testing.T) {
	b := New(WithThreshold(3))

	// Two failed pipeline dispatches in a row: not enough to trip yet.
	b.RecordFailure()
	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Fatalf("expected Closed after 2 failed dispatches, got %s", b.CurrentState())
	}
	if !b.Allow() {
		t.Fatal("should still route through Temporal after 2 failed dispatches")
	}

	// Third consecutive failure trips the breaker; the orchestrator should
	// now fall back to running the pipeline locally.
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("expected Open after 3 failed dispatches, got %s", b.CurrentState())
	}
}

func TestOpenBreakerForcesLocalFallback(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(10*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure() // one failed dispatch trips it
	if b.CurrentState() != Open {
		t.Fatalf("expected Open, got %s", b.CurrentState())
	}
	if b.Allow() {
		t.Fatal("an open breaker must force the orchestrator onto its local fallback path")
	}
}

func TestBreakerProbesTemporalAfterCooldown(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(10*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure() // trips
	if b.CurrentState() != Open {
		t.Fatalf("expected Open, got %s", b.CurrentState())
	}

	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("should allow one probe dispatch after cooldown")
	}
	if b.CurrentState() != HalfOpen {
		t.Fatalf("expected HalfOpen, got %s", b.CurrentState())
	}

	// A second concurrent run must not also be routed to Temporal while the
	// probe is still outstanding.
	if b.Allow() {
		t.Fatal("should reject a second dispatch while the probe is in flight")
	}
}

func TestSuccessfulProbeResumesTemporalDispatch(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(5*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure() // trips

	now = now.Add(6 * time.Second)
	if !b.Allow() {
		t.Fatal("should allow probe")
	}
	if b.CurrentState() != HalfOpen {
		t.Fatalf("expected HalfOpen, got %s", b.CurrentState())
	}

	// The probe run completed via Temporal successfully.
	b.RecordSuccess()
	if b.CurrentState() != Closed {
		t.Fatalf("expected Closed after a successful probe, got %s", b.CurrentState())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should resume routing pipeline runs through Temporal")
	}
}

func TestFailedProbeReopensBreaker(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(5*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure() // trips

	now = now.Add(6 * time.Second)
	b.Allow() // transitions to HalfOpen

	// The probe run also failed to dispatch.
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("expected Open after a failed probe, got %s", b.CurrentState())
	}
	if b.Allow() {
		t.Fatal("should reject dispatch immediately after a failed probe")
	}
}

func TestRecordSuccessResetsConsecutiveFailureCount(t *testing.T) {
	b := New(WithThreshold(3))

	// Two failed dispatches, then one that succeeds.
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The counter should have reset: three more failures are needed to trip.
	b.RecordFailure()
	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Fatalf("expected Closed, got %s", b.CurrentState())
	}
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("expected Open after 3 failures, got %s", b.CurrentState())
	}
}

func TestOnStateChangeCallbackFiresAcrossADispatchOutage(t *testing.T) {
	var transitions []struct{ from, to State }
	cb := func(from, to State) {
		transitions = append(transitions, struct{ from, to State }{from, to})
	}

	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(5*time.Second), WithOnStateChange(cb))
	b.nowFunc = func() time.Time { return now }

	// Trip: Closed -> Open, as the orchestrator would see during a Temporal outage.
	b.RecordFailure()
	// Cooldown elapsed: Open -> HalfOpen, the orchestrator probes again.
	now = now.Add(6 * time.Second)
	b.Allow()
	// Probe succeeds: HalfOpen -> Closed, Temporal dispatch resumes.
	b.RecordSuccess()

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}
	expected := []struct{ from, to State }{
		{Closed, Open},
		{Open, HalfOpen},
		{HalfOpen, Closed},
	}
	for i, tr := range transitions {
		if tr.from != expected[i].from || tr.to != expected[i].to {
			t.Errorf("transition %d: expected %s->%s, got %s->%s",
				i, expected[i].from, expected[i].to, tr.from, tr.to)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestWithThresholdIgnoresNonPositive(t *testing.T) {
	b := New(WithThreshold(0))
	if b.failureThreshold != defaultThreshold {
		t.Fatalf("expected default threshold %d, got %d", defaultThreshold, b.failureThreshold)
	}
	b = New(WithThreshold(-1))
	if b.failureThreshold != defaultThreshold {
		t.Fatalf("expected default threshold %d, got %d", defaultThreshold, b.failureThreshold)
	}
}

func TestWithCooldownIgnoresNonPositive(t *testing.T) {
	b := New(WithCooldown(0))
	if b.cooldown != defaultCooldown {
		t.Fatalf("expected default cooldown %v, got %v", defaultCooldown, b.cooldown)
	}
	b = New(WithCooldown(-1 * time.Second))
	if b.cooldown != defaultCooldown {
		t.Fatalf("expected default cooldown %v, got %v", defaultCooldown, b.cooldown)
	}
}
