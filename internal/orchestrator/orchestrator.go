// Package orchestrator implements the Pipeline Orchestrator (C6): the
// seven-phase research-question-to-draft pipeline (Init, Retrieve, Assemble,
// Draft, Triad, Persist, Emit). Every run dispatches through Temporal when a
// workflow client is configured and the circuit breaker is closed; otherwise
// (or on a Temporal failure) it falls back to running the same seven phases
// directly in-process, mirroring the teacher's Temporal-dispatch-with-
// direct-engine-fallback duality.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/artifacts"
	"github.com/noeticlab/noesis/internal/circuitbreaker"
	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/contextbuilder"
	"github.com/noeticlab/noesis/internal/events"
	"github.com/noeticlab/noesis/internal/feedback"
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/metrics"
	"github.com/noeticlab/noesis/internal/registry"
	temporalpkg "github.com/noeticlab/noesis/internal/temporal"
	"github.com/noeticlab/noesis/internal/triad"
)

// Options configures a single pipeline run.
type Options struct {
	TriadRounds  int
	TokenBudget  int
	RetrieveMode bool
	WithTriad    bool // false skips the Triad phase entirely; the draft ships as-is
}

// PhaseRecord mirrors feedback.PhaseRecord, populated as each phase runs.
type PhaseRecord = feedback.PhaseRecord

// OutcomeKind classifies how a run concluded, independent of whether Err is
// set: a run can succeed, degrade to a best-effort result, be cancelled, or
// fail outright. The pipeline driver maps these to the documented exit
// codes (0/4/3/1 respectively).
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomePartialFailure OutcomeKind = "partial_failure"
	OutcomeCancelled      OutcomeKind = "cancelled"
	OutcomeFailure        OutcomeKind = "failure"
)

// Outcome is the run's terminal classification, with an optional reason
// (e.g. "premium_exhausted") for OutcomePartialFailure.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// RunReport is the full record of a completed (or failed) run.
type RunReport struct {
	RunID      string
	Question   string
	Phases     []PhaseRecord
	FinalDraft string
	DraftPath  string
	LlmStats   map[registry.Tier]accountant.TierUsage
	Transcript triad.Transcript
	Outcome    Outcome
	Err        error
}

// Completer is the router-shaped dependency the orchestrator needs for its
// own Draft phase; the Triad phase drives it indirectly via *triad.Runner.
type Completer interface {
	ChooseAndComplete(ctx context.Context, req llm.CompletionRequest, stats *accountant.LlmCallsStats) (llm.Output, error)
}

// Orchestrator wires the tiered router, triad reviewer, artifact writer and
// feedback journal into the seven-phase pipeline, with an optional Temporal
// dispatch path guarded by a circuit breaker.
type Orchestrator struct {
	router    Completer
	triad     *triad.Runner
	artifacts *artifacts.Writer
	journal   *feedback.Journal
	retriever llm.Retriever
	observer  llm.ObserverCtx

	temporalClient    client.Client
	temporalTaskQueue string
	breaker           *circuitbreaker.Breaker

	metrics  *metrics.Registry
	bus      *events.Bus
	newRunID func() string
	now      func() time.Time
}

// Option configures optional Orchestrator behaviour.
type Option func(*Orchestrator)

// WithRetriever configures the Retrieve phase's passage source.
func WithRetriever(r llm.Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithObserver configures the observer-context snapshot source.
func WithObserver(ob llm.ObserverCtx) Option {
	return func(o *Orchestrator) { o.observer = ob }
}

// WithTemporal configures durable dispatch: a live workflow client, its task
// queue, and the breaker guarding that dispatch path.
func WithTemporal(c client.Client, taskQueue string, breaker *circuitbreaker.Breaker) Option {
	return func(o *Orchestrator) {
		o.temporalClient = c
		o.temporalTaskQueue = taskQueue
		o.breaker = breaker
	}
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDGenerator overrides run id generation, for deterministic tests.
func WithRunIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// WithMetrics attaches a Prometheus registry; every phase and run outcome is
// instrumented against it when set.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEventBus attaches an event bus; every Temporal dispatch attempt
// publishes its start/completion/failure to it when set.
func WithEventBus(b *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// New creates an Orchestrator. router and triadRunner must share the same
// underlying *router.Router so usage accounting is consistent across phases.
func New(router Completer, triadRunner *triad.Runner, aw *artifacts.Writer, journal *feedback.Journal, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:    router,
		triad:     triadRunner,
		artifacts: aw,
		journal:   journal,
		newRunID:  func() string { return uuid.NewString() },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full pipeline run for question, dispatching through
// Temporal when configured and the breaker allows it, falling back to the
// in-process executor otherwise.
func (o *Orchestrator) Run(ctx context.Context, question string, opts Options) RunReport {
	runID := o.newRunID()

	if o.temporalClient != nil && o.breaker != nil && o.breaker.Allow() {
		report, err := o.runViaTemporal(ctx, runID, question, opts)
		if err == nil {
			o.breaker.RecordSuccess()
			o.recordRunOutcome(report)
			return report
		}
		o.breaker.RecordFailure()
		if o.metrics != nil {
			o.metrics.TemporalFallbackTotal.Inc()
		}
		// fall through to local execution
	}

	report := o.runLocal(ctx, runID, question, opts)
	o.recordRunOutcome(report)
	return report
}

func (o *Orchestrator) publishWorkflowFailed(runID string, err error) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Type: events.EventWorkflowFailed, RunID: runID, ErrorMsg: err.Error()})
}

func (o *Orchestrator) recordRunOutcome(report RunReport) {
	if o.metrics == nil {
		return
	}
	kind := report.Outcome.Kind
	if kind == "" {
		kind = OutcomeFailure
	}
	o.metrics.RunsTotal.WithLabelValues(string(kind)).Inc()
}

func (o *Orchestrator) runViaTemporal(ctx context.Context, runID, question string, opts Options) (RunReport, error) {
	input := temporalpkg.PipelineInput{
		RunID:        runID,
		Question:     question,
		TriadRounds:  opts.TriadRounds,
		TokenBudget:  opts.TokenBudget,
		RetrieveMode: opts.RetrieveMode,
		WithTriad:    opts.WithTriad,
	}

	if o.bus != nil {
		o.bus.Publish(events.Event{Type: events.EventWorkflowStarted, RunID: runID})
	}

	run, err := o.temporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("pipeline-%s", runID),
		TaskQueue: o.temporalTaskQueue,
	}, temporalpkg.PipelineWorkflow, input)
	if err != nil {
		o.publishWorkflowFailed(runID, err)
		return RunReport{}, fmt.Errorf("orchestrator: dispatch pipeline workflow: %w", err)
	}

	var out temporalpkg.PipelineOutput
	if err := run.Get(ctx, &out); err != nil {
		o.publishWorkflowFailed(runID, err)
		return RunReport{}, fmt.Errorf("orchestrator: await pipeline workflow: %w", err)
	}
	if out.Error != "" {
		o.publishWorkflowFailed(runID, errors.New(out.Error))
		return RunReport{}, fmt.Errorf("orchestrator: pipeline workflow failed: %s", out.Error)
	}
	if o.bus != nil {
		o.bus.Publish(events.Event{Type: events.EventWorkflowCompleted, RunID: runID})
	}

	outcomeKind := OutcomeSuccess
	if out.Outcome == string(OutcomePartialFailure) {
		outcomeKind = OutcomePartialFailure
	}
	return RunReport{
		RunID:      runID,
		Question:   question,
		FinalDraft: out.FinalDraft,
		DraftPath:  out.DraftPath,
		LlmStats:   out.LlmStats,
		Outcome:    Outcome{Kind: outcomeKind, Reason: out.Reason},
	}, nil
}

// runLocal runs all seven phases directly in this process, recording a
// PhaseRecord for each named phase.
func (o *Orchestrator) runLocal(ctx context.Context, runID, question string, opts Options) RunReport {
	report := RunReport{RunID: runID, Question: question}
	stats := accountant.NewStats()

	var passages []llm.Passage
	report.Phases = append(report.Phases, o.timedPhase("retrieve", func() error {
		if !opts.RetrieveMode || o.retriever == nil {
			return nil
		}
		var err error
		passages, err = o.retriever.Retrieve(ctx, question, 30*time.Second)
		return err
	}))
	if lastPhaseFailed(report.Phases) {
		return o.fail(ctx, report, report.Phases[len(report.Phases)-1])
	}

	var observerCtx map[string]any
	report.Phases = append(report.Phases, o.timedPhase("observe", func() error {
		if o.observer == nil {
			return nil
		}
		var err error
		observerCtx, err = o.observer.Snapshot(ctx)
		return err
	}))
	if lastPhaseFailed(report.Phases) {
		return o.fail(ctx, report, report.Phases[len(report.Phases)-1])
	}

	var prompt string
	report.Phases = append(report.Phases, o.timedPhase("assemble", func() error {
		prompt = contextbuilder.Assemble(contextbuilder.Input{
			Question:         question,
			RetrievalResults: passages,
			ObserverContext:  observerCtx,
		}, opts.TokenBudget)
		return nil
	}))

	var initialDraft string
	report.Phases = append(report.Phases, o.timedPhase("draft", func() error {
		out, err := o.router.ChooseAndComplete(ctx, llm.CompletionRequest{
			Prompt: prompt,
			Meta:   classifier.RequestMeta{Role: classifier.RoleDraft},
		}, stats)
		if err != nil {
			return err
		}
		initialDraft = out.Text
		return nil
	}))
	if lastPhaseFailed(report.Phases) {
		return o.fail(ctx, report, report.Phases[len(report.Phases)-1])
	}

	var transcript triad.Transcript
	if opts.WithTriad {
		report.Phases = append(report.Phases, o.timedPhase("triad", func() error {
			finalText, tr, err := o.triad.Run(ctx, question, initialDraft, triad.Options{
				Rounds:          opts.TriadRounds,
				TokenBudget:     opts.TokenBudget,
				RetrievalBudget: passages,
			}, stats)
			transcript = tr
			report.FinalDraft = finalText
			return err
		}))
		if lastPhaseFailed(report.Phases) {
			return o.fail(ctx, report, report.Phases[len(report.Phases)-1])
		}
	} else {
		report.FinalDraft = initialDraft
	}

	report.Transcript = transcript
	report.LlmStats = stats.Snapshot()
	if transcript.Degraded != "" {
		report.Outcome = Outcome{Kind: OutcomePartialFailure, Reason: transcript.Degraded}
	} else {
		report.Outcome = Outcome{Kind: OutcomeSuccess}
	}

	report.Phases = append(report.Phases, o.timedPhase("persist", func() error {
		draftPath := o.artifacts.DraftPath(runID, o.now())
		if err := o.artifacts.WriteAtomic(draftPath, []byte(report.FinalDraft)); err != nil {
			return err
		}
		report.DraftPath = draftPath

		if opts.WithTriad {
			if err := o.artifacts.EnsureRunDir(runID); err != nil {
				return err
			}
			if err := o.artifacts.WriteAtomic(o.artifacts.TriadInitialDraftPath(runID), []byte(initialDraft)); err != nil {
				return err
			}
			if err := o.artifacts.WriteAtomic(o.artifacts.TriadFinalDraftPath(runID), []byte(report.FinalDraft)); err != nil {
				return err
			}
			transcriptJSON, err := json.Marshal(transcript)
			if err != nil {
				return err
			}
			if err := o.artifacts.WriteAtomic(o.artifacts.TriadTranscriptPath(runID), transcriptJSON); err != nil {
				return err
			}
		}

		if o.journal == nil {
			return nil
		}
		if err := o.journal.AppendPipelineRun(feedback.PipelineRunPayload{
			RunID:    runID,
			Question: question,
			Phases:   report.Phases,
			LlmStats: report.LlmStats,
			Outcome:  string(report.Outcome.Kind),
			Reason:   report.Outcome.Reason,
		}); err != nil {
			return err
		}
		return o.journal.AppendTriadCompleted(feedback.TriadCompletedPayload{RunID: runID, Transcript: transcript})
	}))
	if lastPhaseFailed(report.Phases) {
		return o.fail(ctx, report, report.Phases[len(report.Phases)-1])
	}

	// Emit: returning report to the caller.
	return report
}

func (o *Orchestrator) timedPhase(name string, fn func() error) PhaseRecord {
	rec := PhaseRecord{Name: name, StartedAt: o.now()}
	err := fn()
	rec.EndedAt = o.now()
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
	}
	if o.metrics != nil {
		o.metrics.PhaseLatencyMs.WithLabelValues(name).Observe(float64(rec.EndedAt.Sub(rec.StartedAt).Milliseconds()))
	}
	return rec
}

func lastPhaseFailed(phases []PhaseRecord) bool {
	return len(phases) > 0 && phases[len(phases)-1].Error != nil
}

func (o *Orchestrator) fail(ctx context.Context, report RunReport, failed PhaseRecord) RunReport {
	report.Err = fmt.Errorf("orchestrator: phase %q failed: %s", failed.Name, *failed.Error)
	if ctx.Err() != nil {
		report.Outcome = Outcome{Kind: OutcomeCancelled, Reason: failed.Name}
	} else {
		report.Outcome = Outcome{Kind: OutcomeFailure, Reason: failed.Name}
	}
	return report
}
