package temporal

import (
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/triad"
)

// unavailableOpinion mirrors triad.unavailableOpinion: substituted for a
// reviewer whose activity call failed terminally, so the arbiter can still
// run with the roles it has.
func unavailableOpinion() triad.ReviewerOpinion {
	return triad.ReviewerOpinion{Score: 0, Flags: []string{"reviewer_unavailable"}}
}

func opinionFromOutput(out llm.Output) triad.ReviewerOpinion {
	return triad.ReviewerOpinion{Text: out.Text, Score: 0.5}
}

func isUnavailable(o triad.ReviewerOpinion) bool {
	for _, f := range o.Flags {
		if f == "reviewer_unavailable" {
			return true
		}
	}
	return false
}

// contributionWeights splits 1.0 equally among the non-placeholder roles,
// mirroring triad.contributionWeights.
func contributionWeights(athena, hermes, argos triad.ReviewerOpinion) map[string]float64 {
	available := map[string]bool{
		"athena": !isUnavailable(athena),
		"hermes": !isUnavailable(hermes),
		"argos":  !isUnavailable(argos),
	}
	n := 0
	for _, ok := range available {
		if ok {
			n++
		}
	}
	weights := map[string]float64{"athena": 0, "hermes": 0, "argos": 0}
	if n == 0 {
		return weights
	}
	share := 1.0 / float64(n)
	for role, ok := range available {
		if ok {
			weights[role] = share
		}
	}
	return weights
}

func judgeDecisionFrom(finalText string, athena, hermes, argos triad.ReviewerOpinion) triad.JudgeDecision {
	return triad.JudgeDecision{
		FinalText:           finalText,
		Rationale:           "synthesized from available reviewer opinions",
		ContributionWeights: contributionWeights(athena, hermes, argos),
	}
}
