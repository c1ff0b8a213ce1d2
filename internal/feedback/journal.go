// Package feedback implements the Feedback Journal (C8): an append-only
// JSONL store of FeedbackEvent, one JSON object per line, plus the
// Analytics & Exporter (C9) read-only derivations over it. The on-disk
// format mirrors the teacher pack's per-task JSONL event log: one file,
// append-only, one tagged event per line.
package feedback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/registry"
	"github.com/noeticlab/noesis/internal/triad"
)

// EventType tags the FeedbackEvent sum type.
type EventType string

const (
	EventPipelineRun    EventType = "PipelineRun"
	EventTriadCompleted EventType = "TriadCompleted"
	EventHumanFeedback  EventType = "HumanFeedback"
)

// PhaseRecord mirrors the orchestrator's per-phase bookkeeping, persisted
// verbatim into PipelineRun events.
type PhaseRecord struct {
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
	LlmCalls  int        `json:"llm_calls"`
	Error     *string    `json:"error,omitempty"`
}

// PipelineRunPayload is the payload of a PipelineRun event. Outcome is one
// of "success", "partial_failure", "cancelled", "failure"; Reason is set
// for "partial_failure" (e.g. "premium_exhausted") and for the other
// non-success kinds (the failed/cancelled phase name).
type PipelineRunPayload struct {
	RunID    string                                  `json:"run_id"`
	Question string                                  `json:"question"`
	Phases   []PhaseRecord                           `json:"phases"`
	LlmStats map[registry.Tier]accountant.TierUsage  `json:"llm_stats"`
	Outcome  string                                  `json:"outcome"`
	Reason   string                                  `json:"reason,omitempty"`
}

// TriadCompletedPayload is the payload of a TriadCompleted event.
type TriadCompletedPayload struct {
	RunID      string            `json:"run_id"`
	Transcript triad.Transcript  `json:"transcript"`
}

// HumanFeedbackPayload is the payload of a HumanFeedback event.
type HumanFeedbackPayload struct {
	RunID    string `json:"run_id"`
	Accepted bool   `json:"accepted"`
	Rating   int    `json:"rating"` // [0, 10]
	Notes    string `json:"notes"`
}

// Event is one line of the feedback journal: a tagged object carrying
// type, run_id, timestamp, and a type-specific payload. Unknown fields on
// read are ignored; readers must tolerate forward-compatible extensions,
// so Payload is decoded lazily via RawPayload.
type Event struct {
	Type       EventType       `json:"type"`
	RunID      string          `json:"run_id"`
	Timestamp  time.Time       `json:"timestamp"`
	RawPayload json.RawMessage `json:"payload"`
}

// UnknownRunError is returned by TagRun when run_id has no prior
// PipelineRun event.
type UnknownRunError struct {
	RunID string
}

func (e *UnknownRunError) Error() string {
	return fmt.Sprintf("feedback: unknown run %q", e.RunID)
}

// Journal is a single-writer-per-process append-only event log. Multiple
// processes rely on O_APPEND's atomicity for interleaved writes; this
// process holds one file handle for its own lifetime.
type Journal struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	f         *os.File
	fallback  []Event // in-memory buffer used when the file is unwritable
	degraded  bool
}

// Option configures optional Journal construction behaviour.
type Option func(*Journal)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open opens (creating if needed) the JSONL file at path for append-only
// writes.
func Open(path string, opts ...Option) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("feedback: open journal: %w", err)
	}
	j := &Journal{path: path, f: f, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Append atomically appends one event. On a persistent write failure it
// logs nothing itself (the caller is expected to log) and degrades to an
// in-memory buffer so subsequent appends are not lost outright; the next
// successful append does not retroactively flush the buffer, since a
// single JSONL line is the unit of durability here.
func (j *Journal) Append(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("feedback: marshal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		j.degraded = true
		j.fallback = append(j.fallback, e)
		return fmt.Errorf("feedback: journal file unavailable, buffered in memory")
	}

	if _, err := fmt.Fprintf(j.f, "%s\n", data); err != nil {
		j.degraded = true
		j.fallback = append(j.fallback, e)
		return fmt.Errorf("feedback: append: %w", err)
	}
	return nil
}

// AppendPipelineRun builds and appends a PipelineRun event.
func (j *Journal) AppendPipelineRun(payload PipelineRunPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feedback: marshal PipelineRun payload: %w", err)
	}
	return j.Append(Event{Type: EventPipelineRun, RunID: payload.RunID, Timestamp: j.now().UTC(), RawPayload: raw})
}

// AppendTriadCompleted builds and appends a TriadCompleted event.
func (j *Journal) AppendTriadCompleted(payload TriadCompletedPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feedback: marshal TriadCompleted payload: %w", err)
	}
	return j.Append(Event{Type: EventTriadCompleted, RunID: payload.RunID, Timestamp: j.now().UTC(), RawPayload: raw})
}

// TagRun emits a HumanFeedback event for run_id, after verifying that a
// PipelineRun for that id was previously appended. Returns *UnknownRunError
// if not.
func (j *Journal) TagRun(runID string, accepted bool, rating int, notes string) error {
	known, err := j.runExists(runID)
	if err != nil {
		return err
	}
	if !known {
		return &UnknownRunError{RunID: runID}
	}

	raw, err := json.Marshal(HumanFeedbackPayload{RunID: runID, Accepted: accepted, Rating: rating, Notes: notes})
	if err != nil {
		return fmt.Errorf("feedback: marshal HumanFeedback payload: %w", err)
	}
	return j.Append(Event{Type: EventHumanFeedback, RunID: runID, Timestamp: j.now().UTC(), RawPayload: raw})
}

func (j *Journal) runExists(runID string) (bool, error) {
	found := false
	err := j.Scan(func(e Event) bool {
		if e.Type == EventPipelineRun && e.RunID == runID {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Scan reads the full history in append order, invoking fn for each event
// until fn returns false or the file is exhausted.
func (j *Journal) Scan(fn func(Event) bool) error {
	j.mu.Lock()
	path := j.path
	j.mu.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("feedback: open for scan: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // tolerate a malformed line rather than aborting the scan
		}
		if !fn(e) {
			break
		}
	}
	return scanner.Err()
}

// Degraded reports whether the journal has fallen back to an in-memory
// buffer after a persistent write failure.
func (j *Journal) Degraded() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.degraded
}

// unmarshalPayload decodes an event's RawPayload into dst.
func unmarshalPayload(e Event, dst any) error {
	return json.Unmarshal(e.RawPayload, dst)
}
