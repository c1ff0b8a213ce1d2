package orchestrator

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/artifacts"
	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/feedback"
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/triad"
)

// roleRouter answers every call with role-specific canned text, so test
// assertions can tell which phase produced which output.
type roleRouter struct {
	failRole classifier.Role
}

func (r *roleRouter) ChooseAndComplete(ctx context.Context, req llm.CompletionRequest, stats *accountant.LlmCallsStats) (llm.Output, error) {
	if req.Meta.Role == r.failRole {
		return llm.Output{}, errors.New("simulated failure")
	}
	return llm.Output{Text: "output:" + string(req.Meta.Role), TokensIn: 1, TokensOut: 1}, nil
}

func newTestOrchestrator(t *testing.T, router *roleRouter) (*Orchestrator, string) {
	t.Helper()
	dataRoot := t.TempDir()
	aw := artifacts.New(dataRoot)
	journalPath := aw.FeedbackEventsPath()
	journal, err := feedback.Open(journalPath)
	if err != nil {
		t.Fatalf("feedback.Open: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	runner := triad.New(router)
	fixedTime := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	var counter int
	o := New(router, runner, aw, journal,
		WithClock(func() time.Time { return fixedTime }),
		WithRunIDGenerator(func() string { counter++; return "run-test" }),
	)
	return o, dataRoot
}

func TestRunLocalHappyPathPersistsDraftAndEvents(t *testing.T) {
	router := &roleRouter{}
	o, dataRoot := newTestOrchestrator(t, router)

	report := o.Run(context.Background(), "what is X?", Options{TriadRounds: 1, WithTriad: true})
	if report.Err != nil {
		t.Fatalf("Run returned error: %v", report.Err)
	}
	if report.FinalDraft == "" {
		t.Error("expected non-empty final draft")
	}
	if report.DraftPath == "" {
		t.Error("expected non-empty draft path")
	}
	if len(report.Phases) == 0 {
		t.Error("expected phase records to be populated")
	}
	for _, p := range report.Phases {
		if p.Error != nil {
			t.Errorf("unexpected phase error in %q: %s", p.Name, *p.Error)
		}
	}

	aw := artifacts.New(dataRoot)
	if _, err := os.Stat(aw.TriadInitialDraftPath(report.RunID)); err != nil {
		t.Errorf("expected triad initial draft artifact to exist: %v", err)
	}
	if _, err := os.Stat(aw.TriadFinalDraftPath(report.RunID)); err != nil {
		t.Errorf("expected triad final draft artifact to exist: %v", err)
	}
	if _, err := os.Stat(aw.TriadTranscriptPath(report.RunID)); err != nil {
		t.Errorf("expected triad transcript artifact to exist: %v", err)
	}
}

func TestRunLocalWithTriadFalseSkipsTriadPhaseAndArtifacts(t *testing.T) {
	router := &roleRouter{}
	o, dataRoot := newTestOrchestrator(t, router)

	report := o.Run(context.Background(), "q", Options{TriadRounds: 1, WithTriad: false})
	if report.Err != nil {
		t.Fatalf("Run returned error: %v", report.Err)
	}
	for _, p := range report.Phases {
		if p.Name == "triad" {
			t.Errorf("expected no triad phase when WithTriad is false, got %+v", p)
		}
	}
	if report.FinalDraft != "output:"+string(classifier.RoleDraft) {
		t.Errorf("expected the draft to ship unreviewed, got %q", report.FinalDraft)
	}

	aw := artifacts.New(dataRoot)
	if _, err := os.Stat(aw.TriadInitialDraftPath(report.RunID)); !os.IsNotExist(err) {
		t.Errorf("expected no triad artifacts when WithTriad is false, stat err: %v", err)
	}
}

func TestRunLocalDraftPhaseFailureStopsPipeline(t *testing.T) {
	router := &roleRouter{failRole: classifier.RoleDraft}
	o, _ := newTestOrchestrator(t, router)

	report := o.Run(context.Background(), "q", Options{TriadRounds: 1, WithTriad: true})
	if report.Err == nil {
		t.Fatal("expected an error when the draft phase fails")
	}
	if report.DraftPath != "" {
		t.Errorf("expected no draft path persisted after a draft failure, got %q", report.DraftPath)
	}
}

func TestRunLocalTriadReviewerFailureStillProducesFinalDraft(t *testing.T) {
	router := &roleRouter{failRole: classifier.RoleReviewLiterature}
	o, _ := newTestOrchestrator(t, router)

	report := o.Run(context.Background(), "q", Options{TriadRounds: 1, WithTriad: true})
	if report.Err != nil {
		t.Fatalf("expected pipeline to tolerate a single reviewer failure, got: %v", report.Err)
	}
	if report.Transcript.Athena.Score != 0 {
		t.Errorf("expected placeholder literature opinion, got %+v", report.Transcript.Athena)
	}
}

func TestRunLocalArbiterFailureYieldsPartialFailureOutcome(t *testing.T) {
	router := &roleRouter{failRole: classifier.RoleArbitrate}
	o, _ := newTestOrchestrator(t, router)

	report := o.Run(context.Background(), "q", Options{TriadRounds: 1, WithTriad: true})
	if report.Err != nil {
		t.Fatalf("expected a degraded-but-successful run, got error: %v", report.Err)
	}
	if report.Outcome.Kind != OutcomePartialFailure {
		t.Errorf("expected OutcomePartialFailure, got %q", report.Outcome.Kind)
	}
	if report.Outcome.Reason == "" {
		t.Error("expected a non-empty degradation reason")
	}
	if report.DraftPath == "" {
		t.Error("expected the best-effort draft to still be persisted")
	}
}

func TestRunLocalRecordsLlmStatsAcrossPhases(t *testing.T) {
	router := &roleRouter{}
	o, _ := newTestOrchestrator(t, router)

	report := o.Run(context.Background(), "q", Options{TriadRounds: 1, WithTriad: true})
	if report.Err != nil {
		t.Fatalf("Run: %v", report.Err)
	}
	if len(report.LlmStats) == 0 {
		t.Error("expected non-empty llm stats snapshot")
	}
}
