package temporal

import (
	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/registry"
	"github.com/noeticlab/noesis/internal/triad"
)

// PipelineInput is the input for PipelineWorkflow, one durable execution of
// the orchestrator's seven phases for a single research question.
type PipelineInput struct {
	RunID        string `json:"run_id"`
	Question     string `json:"question"`
	TriadRounds  int    `json:"triad_rounds"`
	TokenBudget  int    `json:"token_budget"`
	RetrieveMode bool   `json:"retrieve_mode"` // false skips the Retrieve phase entirely
	WithTriad    bool   `json:"with_triad"`     // false skips the Triad child workflow entirely
}

// PipelineOutput is the durable result of PipelineWorkflow. Outcome/Reason
// mirror triad.Transcript.Degraded: "partial_failure"/"<reason>" when the
// arbiter call itself degraded to a best-effort draft, "success" otherwise.
type PipelineOutput struct {
	RunID       string                                  `json:"run_id"`
	FinalDraft  string                                  `json:"final_draft"`
	DraftPath   string                                  `json:"draft_path"`
	LlmStats    map[registry.Tier]accountant.TierUsage `json:"llm_stats"`
	Outcome     string                                  `json:"outcome"`
	Reason      string                                  `json:"reason,omitempty"`
	Error       string                                  `json:"error,omitempty"`
}

// RetrieveInput/RetrieveOutput back the Retrieve activity.
type RetrieveInput struct {
	Question string `json:"question"`
}

type RetrieveOutput struct {
	Passages []llm.Passage `json:"passages"`
}

// ObserveInput/ObserveOutput back the Observe activity.
type ObserveInput struct{}

type ObserveOutput struct {
	Snapshot map[string]any `json:"snapshot"`
}

// AssembleInput/AssembleOutput back the Assemble activity.
type AssembleInput struct {
	Question        string         `json:"question"`
	PriorDraft       string         `json:"prior_draft"`
	RetrievalResults []llm.Passage  `json:"retrieval_results"`
	ObserverContext  map[string]any `json:"observer_context"`
	TokenBudget      int            `json:"token_budget"`
}

type AssembleOutput struct {
	Prompt string `json:"prompt"`
}

// DraftInput/DraftOutput back the Draft activity: one router call that
// produces the pipeline's zeroth-round draft, before the triad ever runs.
type DraftInput struct {
	Question string `json:"question"`
	Prompt   string `json:"prompt"`
}

type DraftOutput struct {
	Text string `json:"text"`
}

// ReviewInput/ReviewOutput back each of the three triad reviewer activities.
type ReviewInput struct {
	Question        string        `json:"question"`
	Draft            string        `json:"draft"`
	RetrievalResults []llm.Passage `json:"retrieval_results"`
	TokenBudget      int           `json:"token_budget"`
	Role             classifier.Role `json:"role"`
}

type ReviewOutput struct {
	Opinion triad.ReviewerOpinion `json:"opinion"`
}

// ArbitrateInput/ArbitrateOutput back the Arbitrate activity.
type ArbitrateInput struct {
	Question string                `json:"question"`
	Draft    string                `json:"draft"`
	Athena   triad.ReviewerOpinion `json:"athena"`
	Hermes   triad.ReviewerOpinion `json:"hermes"`
	Argos    triad.ReviewerOpinion `json:"argos"`
}

type ArbitrateOutput struct {
	Decision triad.JudgeDecision `json:"decision"`
}

// TriadWorkflowInput/Output: one Temporal-dispatched triad round, usable as
// a child workflow from PipelineWorkflow, or standalone.
type TriadWorkflowInput struct {
	Question         string        `json:"question"`
	InitialDraft      string        `json:"initial_draft"`
	Rounds            int           `json:"rounds"`
	TokenBudget       int           `json:"token_budget"`
	RetrievalResults  []llm.Passage `json:"retrieval_results"`
}

type TriadWorkflowOutput struct {
	FinalText  string           `json:"final_text"`
	Transcript triad.Transcript `json:"transcript"`
}

// UsageInput/UsageOutput back the Usage activity, which reads back the
// run's accumulated per-tier ledger for inclusion in PipelineOutput and the
// persisted PipelineRun event.
type UsageInput struct {
	RunID string `json:"run_id"`
}

type UsageOutput struct {
	LlmStats map[registry.Tier]accountant.TierUsage `json:"llm_stats"`
}

// PersistInput/PersistOutput back the Persist activity: writes the triad
// artifacts and appends the PipelineRun/TriadCompleted feedback events.
type PersistInput struct {
	RunID        string                                  `json:"run_id"`
	Question     string                                  `json:"question"`
	InitialDraft string                                  `json:"initial_draft"`
	FinalDraft   string                                  `json:"final_draft"`
	TriadRan     bool                                    `json:"triad_ran"`
	Transcript   triad.Transcript                        `json:"transcript"`
	LlmStats     map[registry.Tier]accountant.TierUsage `json:"llm_stats"`
}

type PersistOutput struct {
	DraftPath string `json:"draft_path"`
}
