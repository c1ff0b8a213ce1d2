package temporal

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/noeticlab/noesis/internal/triad"
)

// actsRef is a nil *Activities pointer used to create bound method
// references for Temporal mock registration. The SDK only uses reflection
// to extract the method name — no actual method body runs.
var actsRef *Activities

func sampleOpinion(text string) ReviewOutput {
	return ReviewOutput{Opinion: triad.ReviewerOpinion{Text: text, Score: 0.5}}
}

func TestTriadWorkflow_AllReviewersSucceed(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.ReviewLiterature, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("literature"), nil)
	env.OnActivity(actsRef.Rewrite, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("rewrite"), nil)
	env.OnActivity(actsRef.Critique, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("critique"), nil)
	env.OnActivity(actsRef.Arbitrate, mock.Anything, mock.Anything, mock.Anything).Return(
		ArbitrateOutput{Decision: triad.JudgeDecision{FinalText: "merged draft", ContributionWeights: map[string]float64{"athena": 1.0 / 3, "hermes": 1.0 / 3, "argos": 1.0 / 3}}}, nil,
	)

	input := TriadWorkflowInput{Question: "what is X?", InitialDraft: "v0", Rounds: 1}
	env.ExecuteWorkflow(TriadWorkflow, input, "run-1")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TriadWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "merged draft", out.FinalText)
	require.Equal(t, "literature", out.Transcript.Athena.Text)
	require.Equal(t, "rewrite", out.Transcript.Hermes.Text)
	require.Equal(t, "critique", out.Transcript.Argos.Text)
	require.Equal(t, 1, out.Transcript.Rounds)

	env.AssertExpectations(t)
}

func TestTriadWorkflow_OneReviewerFailsStillArbitrates(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.ReviewLiterature, mock.Anything, mock.Anything, mock.Anything).Return(ReviewOutput{}, assertAnError())
	env.OnActivity(actsRef.Rewrite, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("rewrite"), nil)
	env.OnActivity(actsRef.Critique, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("critique"), nil)
	env.OnActivity(actsRef.Arbitrate, mock.Anything, mock.Anything, mock.Anything).Return(
		ArbitrateOutput{Decision: triad.JudgeDecision{FinalText: "partial merge", ContributionWeights: map[string]float64{"hermes": 0.5, "argos": 0.5}}}, nil,
	)

	input := TriadWorkflowInput{Question: "q", InitialDraft: "v0", Rounds: 1}
	env.ExecuteWorkflow(TriadWorkflow, input, "run-2")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TriadWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "partial merge", out.FinalText)
	require.Contains(t, out.Transcript.Athena.Flags, "reviewer_unavailable")

	env.AssertExpectations(t)
}

func TestTriadWorkflow_ArbiterFailureDegradesGracefully(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.ReviewLiterature, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("literature"), nil)
	env.OnActivity(actsRef.Rewrite, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("rewrite"), nil)
	env.OnActivity(actsRef.Critique, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("critique"), nil)
	env.OnActivity(actsRef.Arbitrate, mock.Anything, mock.Anything, mock.Anything).Return(ArbitrateOutput{}, assertAnError())

	input := TriadWorkflowInput{Question: "q", InitialDraft: "v0", Rounds: 1}
	env.ExecuteWorkflow(TriadWorkflow, input, "run-3")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out TriadWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "v0", out.FinalText)
	require.Equal(t, "arbiter_unavailable", out.Transcript.Degraded)
}

func TestTriadWorkflow_ArbiterCanceledErrorPropagates(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.ReviewLiterature, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("literature"), nil)
	env.OnActivity(actsRef.Rewrite, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("rewrite"), nil)
	env.OnActivity(actsRef.Critique, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("critique"), nil)
	env.OnActivity(actsRef.Arbitrate, mock.Anything, mock.Anything, mock.Anything).Return(ArbitrateOutput{}, temporal.NewCanceledError())

	input := TriadWorkflowInput{Question: "q", InitialDraft: "v0", Rounds: 1}
	env.ExecuteWorkflow(TriadWorkflow, input, "run-3b")

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestPipelineWorkflow_RunsAllPhasesAndPersists(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	// TriadWorkflow runs as a real child workflow, backed by mocked activities.
	env.RegisterWorkflow(TriadWorkflow)

	env.OnActivity(actsRef.Retrieve, mock.Anything, mock.Anything).Return(RetrieveOutput{}, nil)
	env.OnActivity(actsRef.Observe, mock.Anything, mock.Anything).Return(ObserveOutput{}, nil)
	env.OnActivity(actsRef.Assemble, mock.Anything, mock.Anything).Return(AssembleOutput{Prompt: "assembled prompt"}, nil)
	env.OnActivity(actsRef.Draft, mock.Anything, mock.Anything, mock.Anything).Return(DraftOutput{Text: "draft v0"}, nil)
	env.OnActivity(actsRef.ReviewLiterature, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("literature"), nil)
	env.OnActivity(actsRef.Rewrite, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("rewrite"), nil)
	env.OnActivity(actsRef.Critique, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("critique"), nil)
	env.OnActivity(actsRef.Arbitrate, mock.Anything, mock.Anything, mock.Anything).Return(
		ArbitrateOutput{Decision: triad.JudgeDecision{FinalText: "final draft", ContributionWeights: map[string]float64{"athena": 1.0 / 3, "hermes": 1.0 / 3, "argos": 1.0 / 3}}}, nil,
	)
	env.OnActivity(actsRef.Usage, mock.Anything, mock.Anything).Return(UsageOutput{}, nil)
	env.OnActivity(actsRef.Persist, mock.Anything, mock.Anything).Return(PersistOutput{DraftPath: "/data/papers/drafts/run-4.md"}, nil)

	input := PipelineInput{RunID: "run-4", Question: "what is X?", TriadRounds: 1, RetrieveMode: true, WithTriad: true}
	env.ExecuteWorkflow(PipelineWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PipelineOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "final draft", out.FinalDraft)
	require.Equal(t, "/data/papers/drafts/run-4.md", out.DraftPath)

	env.AssertExpectations(t)
}

func TestPipelineWorkflow_SkipsRetrieveWhenRetrieveModeFalse(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.RegisterWorkflow(TriadWorkflow)

	env.OnActivity(actsRef.Observe, mock.Anything, mock.Anything).Return(ObserveOutput{}, nil)
	env.OnActivity(actsRef.Assemble, mock.Anything, mock.Anything).Return(AssembleOutput{Prompt: "p"}, nil)
	env.OnActivity(actsRef.Draft, mock.Anything, mock.Anything, mock.Anything).Return(DraftOutput{Text: "draft"}, nil)
	env.OnActivity(actsRef.ReviewLiterature, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("literature"), nil)
	env.OnActivity(actsRef.Rewrite, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("rewrite"), nil)
	env.OnActivity(actsRef.Critique, mock.Anything, mock.Anything, mock.Anything).Return(sampleOpinion("critique"), nil)
	env.OnActivity(actsRef.Arbitrate, mock.Anything, mock.Anything, mock.Anything).Return(
		ArbitrateOutput{Decision: triad.JudgeDecision{FinalText: "final"}}, nil,
	)
	env.OnActivity(actsRef.Usage, mock.Anything, mock.Anything).Return(UsageOutput{}, nil)
	env.OnActivity(actsRef.Persist, mock.Anything, mock.Anything).Return(PersistOutput{DraftPath: "/data/x.md"}, nil)

	input := PipelineInput{RunID: "run-5", Question: "q", TriadRounds: 1, RetrieveMode: false, WithTriad: true}
	env.ExecuteWorkflow(PipelineWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestPipelineWorkflow_SkipsTriadWhenWithTriadFalse(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	// TriadWorkflow is deliberately NOT registered: if PipelineWorkflow tried
	// to dispatch it anyway, the test would fail on an unregistered workflow.
	env.OnActivity(actsRef.Retrieve, mock.Anything, mock.Anything).Return(RetrieveOutput{}, nil)
	env.OnActivity(actsRef.Observe, mock.Anything, mock.Anything).Return(ObserveOutput{}, nil)
	env.OnActivity(actsRef.Assemble, mock.Anything, mock.Anything).Return(AssembleOutput{Prompt: "assembled prompt"}, nil)
	env.OnActivity(actsRef.Draft, mock.Anything, mock.Anything, mock.Anything).Return(DraftOutput{Text: "draft v0"}, nil)
	env.OnActivity(actsRef.Usage, mock.Anything, mock.Anything).Return(UsageOutput{}, nil)
	env.OnActivity(actsRef.Persist, mock.Anything, mock.MatchedBy(func(in PersistInput) bool {
		return !in.TriadRan && in.InitialDraft == "draft v0" && in.FinalDraft == "draft v0"
	})).Return(PersistOutput{DraftPath: "/data/papers/drafts/run-6.md"}, nil)

	input := PipelineInput{RunID: "run-6", Question: "what is X?", RetrieveMode: true, WithTriad: false}
	env.ExecuteWorkflow(PipelineWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out PipelineOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "draft v0", out.FinalDraft)

	env.AssertExpectations(t)
}

func assertAnError() error {
	return &simulatedActivityError{}
}

type simulatedActivityError struct{}

func (e *simulatedActivityError) Error() string { return "simulated activity failure" }
