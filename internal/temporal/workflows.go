package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/noeticlab/noesis/internal/triad"
)

const (
	activityTimeout = 90 * time.Second
)

func defaultActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // the router handles its own retry/fallback logic
		},
	})
}

// PipelineWorkflow is the durable form of the orchestrator's seven phases:
// Init, Retrieve, Assemble, Draft, Triad, Persist, Emit. Init and Emit carry
// no activity of their own — Init is this function starting, Emit is the
// return to the workflow's caller.
func PipelineWorkflow(ctx workflow.Context, input PipelineInput) (PipelineOutput, error) {
	ctx = defaultActivityOptions(ctx)

	// Phase: Retrieve.
	var retrieved RetrieveOutput
	if input.RetrieveMode {
		if err := workflow.ExecuteActivity(ctx, (*Activities).Retrieve, RetrieveInput{Question: input.Question}).Get(ctx, &retrieved); err != nil {
			return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
		}
	}

	var observed ObserveOutput
	if err := workflow.ExecuteActivity(ctx, (*Activities).Observe, ObserveInput{}).Get(ctx, &observed); err != nil {
		return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
	}

	// Phase: Assemble.
	var assembled AssembleOutput
	assembleIn := AssembleInput{
		Question:         input.Question,
		RetrievalResults:  retrieved.Passages,
		ObserverContext:   observed.Snapshot,
		TokenBudget:       input.TokenBudget,
	}
	if err := workflow.ExecuteActivity(ctx, (*Activities).Assemble, assembleIn).Get(ctx, &assembled); err != nil {
		return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
	}

	// Phase: Draft.
	var drafted DraftOutput
	draftIn := DraftInput{Question: input.Question, Prompt: assembled.Prompt}
	if err := workflow.ExecuteActivity(ctx, (*Activities).Draft, draftIn, input.RunID).Get(ctx, &drafted); err != nil {
		return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
	}

	// Phase: Triad (optional).
	triadOut := TriadWorkflowOutput{FinalText: drafted.Text}
	if input.WithTriad {
		triadIn := TriadWorkflowInput{
			Question:         input.Question,
			InitialDraft:     drafted.Text,
			Rounds:           input.TriadRounds,
			TokenBudget:      input.TokenBudget,
			RetrievalResults: retrieved.Passages,
		}
		if err := workflow.ExecuteChildWorkflow(ctx, TriadWorkflow, triadIn, input.RunID).Get(ctx, &triadOut); err != nil {
			return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
		}
	}

	var usage UsageOutput
	if err := workflow.ExecuteActivity(ctx, (*Activities).Usage, UsageInput{RunID: input.RunID}).Get(ctx, &usage); err != nil {
		return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
	}

	// Phase: Persist.
	var persisted PersistOutput
	persistIn := PersistInput{
		RunID:        input.RunID,
		Question:     input.Question,
		InitialDraft: drafted.Text,
		FinalDraft:   triadOut.FinalText,
		TriadRan:     input.WithTriad,
		Transcript:   triadOut.Transcript,
		LlmStats:     usage.LlmStats,
	}
	if err := workflow.ExecuteActivity(ctx, (*Activities).Persist, persistIn).Get(ctx, &persisted); err != nil {
		return PipelineOutput{RunID: input.RunID, Error: err.Error()}, err
	}

	// Phase: Emit.
	outcome, reason := "success", ""
	if triadOut.Transcript.Degraded != "" {
		outcome, reason = "partial_failure", triadOut.Transcript.Degraded
	}
	return PipelineOutput{
		RunID:      input.RunID,
		FinalDraft: triadOut.FinalText,
		DraftPath:  persisted.DraftPath,
		LlmStats:   usage.LlmStats,
		Outcome:    outcome,
		Reason:     reason,
	}, nil
}

// TriadWorkflow fires the three reviewer activities concurrently and joins
// them in the fixed literature/rewrite/critique order before invoking the
// arbiter, looping for the configured number of rounds and feeding each
// round's judged output back in as the next round's draft. Mirrors the
// teacher's voteWorkflow fan-out-then-join shape, but always keeps all N
// results (placeholder on failure) rather than discarding failed voters.
func TriadWorkflow(ctx workflow.Context, input TriadWorkflowInput, runID string) (TriadWorkflowOutput, error) {
	ctx = defaultActivityOptions(ctx)

	rounds := input.Rounds
	if rounds < 1 {
		rounds = 1
	}

	draft := input.InitialDraft
	var out TriadWorkflowOutput

	for round := 1; round <= rounds; round++ {
		reviewIn := ReviewInput{
			Question:         input.Question,
			Draft:            draft,
			RetrievalResults: input.RetrievalResults,
			TokenBudget:      input.TokenBudget,
		}

		litFuture := workflow.ExecuteActivity(ctx, (*Activities).ReviewLiterature, reviewIn, runID)
		rewriteFuture := workflow.ExecuteActivity(ctx, (*Activities).Rewrite, reviewIn, runID)
		critiqueFuture := workflow.ExecuteActivity(ctx, (*Activities).Critique, reviewIn, runID)

		var athena, hermes, argos ReviewOutput
		if err := litFuture.Get(ctx, &athena); err != nil {
			athena.Opinion = unavailableOpinion()
		}
		if err := rewriteFuture.Get(ctx, &hermes); err != nil {
			hermes.Opinion = unavailableOpinion()
		}
		if err := critiqueFuture.Get(ctx, &argos); err != nil {
			argos.Opinion = unavailableOpinion()
		}

		var judged ArbitrateOutput
		arbitrateIn := ArbitrateInput{
			Question: input.Question,
			Draft:    draft,
			Athena:   athena.Opinion,
			Hermes:   hermes.Opinion,
			Argos:    argos.Opinion,
		}
		if err := workflow.ExecuteActivity(ctx, (*Activities).Arbitrate, arbitrateIn, runID).Get(ctx, &judged); err != nil {
			if temporal.IsCanceledError(err) {
				return TriadWorkflowOutput{
					FinalText:  draft,
					Transcript: triadTranscript(athena.Opinion, hermes.Opinion, argos.Opinion, triad.JudgeDecision{}, round, ""),
				}, fmt.Errorf("triad arbitrate round %d: %w", round, err)
			}
			// Recoverable: the arbiter's tier was exhausted or unreachable.
			// Best-effort substitute, matching the local-execution path --
			// the draft entering this round stands as the final text.
			return TriadWorkflowOutput{
				FinalText:  draft,
				Transcript: triadTranscript(athena.Opinion, hermes.Opinion, argos.Opinion, triad.JudgeDecision{}, round, "arbiter_unavailable"),
			}, nil
		}

		out = TriadWorkflowOutput{
			FinalText:  judged.Decision.FinalText,
			Transcript: triadTranscript(athena.Opinion, hermes.Opinion, argos.Opinion, judged.Decision, round, ""),
		}
		draft = judged.Decision.FinalText
	}

	return out, nil
}

func triadTranscript(athena, hermes, argos triad.ReviewerOpinion, judge triad.JudgeDecision, rounds int, degraded string) triad.Transcript {
	return triad.Transcript{Athena: athena, Hermes: hermes, Argos: argos, Judge: judge, Rounds: rounds, Degraded: degraded}
}
