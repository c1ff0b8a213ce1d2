package events

import (
	"strings"
	"testing"
	"time"
)

func TestPublishAndSubscribeRouteSuccess(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(10)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{
		Type:       EventRouteSuccess,
		ProviderID: "openai-gpt4",
		Tier:       "default",
		LatencyMs:  150,
	})

	select {
	case e := <-sub.C:
		if e.Type != EventRouteSuccess {
			t.Errorf("expected route_success, got %s", e.Type)
		}
		if e.ProviderID != "openai-gpt4" {
			t.Errorf("expected openai-gpt4, got %s", e.ProviderID)
		}
		if e.Tier != "default" {
			t.Errorf("expected default, got %s", e.Tier)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishAndSubscribeHealthChange(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(10)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{
		Type:       EventHealthChange,
		ProviderID: "anthropic-claude",
		OldState:   "healthy",
		NewState:   "down",
		Reason:     "consecutive error threshold reached",
	})

	select {
	case e := <-sub.C:
		if e.OldState != "healthy" || e.NewState != "down" {
			t.Errorf("expected healthy->down, got %s->%s", e.OldState, e.NewState)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribersReceiveWorkflowLifecycle(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe(10)
	sub2 := bus.Subscribe(10)
	defer bus.Unsubscribe(sub1)
	defer bus.Unsubscribe(sub2)

	bus.Publish(Event{Type: EventWorkflowFailed, RunID: "run-1", ErrorMsg: "dispatch timed out"})

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case e := <-sub.C:
			if e.Type != EventWorkflowFailed {
				t.Errorf("expected workflow_failed, got %s", e.Type)
			}
			if e.RunID != "run-1" {
				t.Errorf("expected run-1, got %s", e.RunID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(10)
	bus.Unsubscribe(sub)

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	// Publishing after every subscriber has gone should not panic.
	bus.Publish(Event{Type: EventRouteSuccess})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1) // tiny buffer, simulating a stalled consumer

	bus.Publish(Event{Type: EventRouteSuccess, ProviderID: "first"})
	// This should be dropped: the subscriber hasn't drained the first one.
	bus.Publish(Event{Type: EventRouteSuccess, ProviderID: "second"})

	e := <-sub.C
	if e.ProviderID != "first" {
		t.Errorf("expected first event, got %s", e.ProviderID)
	}

	select {
	case <-sub.C:
		t.Error("expected no more events")
	default:
	}
	bus.Unsubscribe(sub)
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus()
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0, got %d", bus.SubscriberCount())
	}

	s1 := bus.Subscribe(10)
	s2 := bus.Subscribe(10)
	if bus.SubscriberCount() != 2 {
		t.Errorf("expected 2, got %d", bus.SubscriberCount())
	}

	bus.Unsubscribe(s1)
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected 1, got %d", bus.SubscriberCount())
	}

	bus.Unsubscribe(s2)
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0, got %d", bus.SubscriberCount())
	}
}

func TestEventJSONOmitsUnsetOptionalFields(t *testing.T) {
	e := Event{
		Type:       EventRouteError,
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ProviderID: "openai-gpt4",
		ErrorMsg:   "context deadline exceeded",
	}
	b := e.JSON()
	if len(b) == 0 {
		t.Fatal("expected non-empty JSON")
	}
	s := string(b)
	if strings.Contains(s, "old_state") {
		t.Error("expected unset health fields to be omitted")
	}
	if !strings.Contains(s, "error_msg") {
		t.Error("expected error_msg to be present")
	}
}
