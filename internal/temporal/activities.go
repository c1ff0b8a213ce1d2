package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/artifacts"
	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/contextbuilder"
	"github.com/noeticlab/noesis/internal/feedback"
	"github.com/noeticlab/noesis/internal/llm"
)

// Completer is the router-shaped dependency every LLM-calling activity
// needs. Satisfied by *router.Router.
type Completer interface {
	ChooseAndComplete(ctx context.Context, req llm.CompletionRequest, stats *accountant.LlmCallsStats) (llm.Output, error)
}

// Activities holds the dependencies behind every PipelineWorkflow and
// TriadWorkflow activity. A worker process constructs exactly one of these
// and registers its methods with the Manager.
//
// LlmCallsStats is per-run and lives only in this process's memory, keyed by
// run id; if activities for one run ever schedule onto different worker
// processes, usage accounting would need to move into Store instead. A
// single-worker-pool deployment (the only one this package supports) never
// hits that case.
type Activities struct {
	Router     Completer
	Retriever  llm.Retriever
	Observer   llm.ObserverCtx
	Artifacts  *artifacts.Writer
	Journal    *feedback.Journal

	mu    sync.Mutex
	stats map[string]*accountant.LlmCallsStats
}

// NewActivities constructs Activities. Retriever and Observer may be nil,
// matching retrieve_mode=false / no observer configured.
func NewActivities(router Completer, retriever llm.Retriever, observer llm.ObserverCtx, aw *artifacts.Writer, journal *feedback.Journal) *Activities {
	return &Activities{
		Router:    router,
		Retriever: retriever,
		Observer:  observer,
		Artifacts: aw,
		Journal:   journal,
		stats:     make(map[string]*accountant.LlmCallsStats),
	}
}

func (a *Activities) statsFor(runID string) *accountant.LlmCallsStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[runID]
	if !ok {
		s = accountant.NewStats()
		a.stats[runID] = s
	}
	return s
}

// Usage is the activity wrapper reading back a run's accumulated per-tier
// ledger, deterministic-safe because it is dispatched through the same
// activity mechanism as every other side effect.
func (a *Activities) Usage(ctx context.Context, in UsageInput) (UsageOutput, error) {
	return UsageOutput{LlmStats: a.statsFor(in.RunID).Snapshot()}, nil
}

// forget drops a run's in-memory stats once the workflow that owns it has
// persisted its final snapshot.
func (a *Activities) forget(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stats, runID)
}

// Retrieve fetches supporting passages for the question. No-op (empty
// result) if no Retriever is configured.
func (a *Activities) Retrieve(ctx context.Context, in RetrieveInput) (RetrieveOutput, error) {
	if a.Retriever == nil {
		return RetrieveOutput{}, nil
	}
	activity.RecordHeartbeat(ctx, "retrieving")
	passages, err := a.Retriever.Retrieve(ctx, in.Question, 30*time.Second)
	if err != nil {
		return RetrieveOutput{}, fmt.Errorf("retrieve: %w", err)
	}
	return RetrieveOutput{Passages: passages}, nil
}

// Observe captures a point-in-time observer snapshot. No-op if no Observer
// is configured.
func (a *Activities) Observe(ctx context.Context, in ObserveInput) (ObserveOutput, error) {
	if a.Observer == nil {
		return ObserveOutput{}, nil
	}
	snap, err := a.Observer.Snapshot(ctx)
	if err != nil {
		return ObserveOutput{}, fmt.Errorf("observe: %w", err)
	}
	return ObserveOutput{Snapshot: snap}, nil
}

// Assemble builds the token-budgeted prompt from the priority-ordered
// sections.
func (a *Activities) Assemble(ctx context.Context, in AssembleInput) (AssembleOutput, error) {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question:         in.Question,
		RetrievalResults: in.RetrievalResults,
		ObserverContext:  in.ObserverContext,
		PriorDraft:       in.PriorDraft,
	}, in.TokenBudget)
	return AssembleOutput{Prompt: prompt}, nil
}

// Draft produces the pipeline's round-zero draft, before any triad review.
func (a *Activities) Draft(ctx context.Context, in DraftInput, runID string) (DraftOutput, error) {
	out, err := a.Router.ChooseAndComplete(ctx, llm.CompletionRequest{
		Prompt: in.Prompt,
		Meta:   classifier.RequestMeta{Role: classifier.RoleDraft},
	}, a.statsFor(runID))
	if err != nil {
		return DraftOutput{}, fmt.Errorf("draft: %w", err)
	}
	return DraftOutput{Text: out.Text}, nil
}

// ReviewLiterature, Rewrite, Critique are the triad's three reviewer
// activities, each one router call. A terminal failure yields a placeholder
// opinion rather than failing the activity, so the arbiter can still run.
func (a *Activities) ReviewLiterature(ctx context.Context, in ReviewInput, runID string) (ReviewOutput, error) {
	return a.review(ctx, in, runID, classifier.RequestMeta{RequiresPhdLevelReasoning: true, Role: classifier.RoleReviewLiterature})
}

func (a *Activities) Rewrite(ctx context.Context, in ReviewInput, runID string) (ReviewOutput, error) {
	return a.review(ctx, in, runID, classifier.RequestMeta{RequiresHighQuality: true, Role: classifier.RoleRewrite})
}

func (a *Activities) Critique(ctx context.Context, in ReviewInput, runID string) (ReviewOutput, error) {
	return a.review(ctx, in, runID, classifier.RequestMeta{HighBiasRisk: true, CriticalSection: true, RequiresPhdLevelReasoning: true, Role: classifier.RoleCritique})
}

func (a *Activities) review(ctx context.Context, in ReviewInput, runID string, meta classifier.RequestMeta) (ReviewOutput, error) {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question:         in.Question,
		PriorDraft:       in.Draft,
		RetrievalResults: in.RetrievalResults,
	}, in.TokenBudget)

	out, err := a.Router.ChooseAndComplete(ctx, llm.CompletionRequest{Prompt: prompt, Meta: meta}, a.statsFor(runID))
	if err != nil {
		return ReviewOutput{Opinion: unavailableOpinion()}, nil
	}
	return ReviewOutput{Opinion: opinionFromOutput(out)}, nil
}

// Arbitrate runs the fourth, judging call over the three (possibly
// placeholder) reviewer opinions.
func (a *Activities) Arbitrate(ctx context.Context, in ArbitrateInput, runID string) (ArbitrateOutput, error) {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question: in.Question,
		PriorDraft: in.Draft + "\n\n---\nliterature review:\n" + in.Athena.Text +
			"\n---\nrewrite:\n" + in.Hermes.Text +
			"\n---\ncritique:\n" + in.Argos.Text,
	}, 0)

	out, err := a.Router.ChooseAndComplete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		Meta:   classifier.RequestMeta{HighBiasRisk: true, CriticalSection: true, Role: classifier.RoleArbitrate},
	}, a.statsFor(runID))
	if err != nil {
		return ArbitrateOutput{}, fmt.Errorf("arbitrate: %w", err)
	}

	return ArbitrateOutput{Decision: judgeDecisionFrom(out.Text, in.Athena, in.Hermes, in.Argos)}, nil
}

// Persist writes the run's artifacts to durable storage and appends the
// PipelineRun and TriadCompleted feedback events, then forgets the run's
// in-memory usage ledger.
func (a *Activities) Persist(ctx context.Context, in PersistInput) (PersistOutput, error) {
	defer a.forget(in.RunID)

	now := time.Now().UTC()
	draftPath := a.Artifacts.DraftPath(in.RunID, now)
	if err := a.Artifacts.WriteAtomic(draftPath, []byte(in.FinalDraft)); err != nil {
		return PersistOutput{}, fmt.Errorf("persist draft: %w", err)
	}

	if in.TriadRan {
		if err := a.Artifacts.EnsureRunDir(in.RunID); err != nil {
			return PersistOutput{}, fmt.Errorf("persist triad run dir: %w", err)
		}
		if err := a.Artifacts.WriteAtomic(a.Artifacts.TriadInitialDraftPath(in.RunID), []byte(in.InitialDraft)); err != nil {
			return PersistOutput{}, fmt.Errorf("persist triad initial draft: %w", err)
		}
		if err := a.Artifacts.WriteAtomic(a.Artifacts.TriadFinalDraftPath(in.RunID), []byte(in.FinalDraft)); err != nil {
			return PersistOutput{}, fmt.Errorf("persist triad final draft: %w", err)
		}
		transcriptJSON, err := json.Marshal(in.Transcript)
		if err != nil {
			return PersistOutput{}, fmt.Errorf("marshal triad transcript: %w", err)
		}
		if err := a.Artifacts.WriteAtomic(a.Artifacts.TriadTranscriptPath(in.RunID), transcriptJSON); err != nil {
			return PersistOutput{}, fmt.Errorf("persist triad transcript: %w", err)
		}
	}

	outcome, reason := "success", ""
	if in.Transcript.Degraded != "" {
		outcome, reason = "partial_failure", in.Transcript.Degraded
	}

	if a.Journal != nil {
		if err := a.Journal.AppendPipelineRun(feedback.PipelineRunPayload{
			RunID:    in.RunID,
			Question: in.Question,
			LlmStats: in.LlmStats,
			Outcome:  outcome,
			Reason:   reason,
		}); err != nil {
			return PersistOutput{}, fmt.Errorf("persist pipeline run event: %w", err)
		}
		if err := a.Journal.AppendTriadCompleted(feedback.TriadCompletedPayload{
			RunID:      in.RunID,
			Transcript: in.Transcript,
		}); err != nil {
			return PersistOutput{}, fmt.Errorf("persist triad completed event: %w", err)
		}
	}

	return PersistOutput{DraftPath: draftPath}, nil
}
