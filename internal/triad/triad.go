// Package triad implements the Triad Reviewer (C7): three reviewer roles
// (literature, rewrite, critique) run concurrently, each a distinct router
// call, and must all complete or fail before a fourth arbiter call judges
// their combined output. The three reviewers' outputs are always observed
// by the arbiter in a fixed order — literature, rewrite, critique — even
// though the calls themselves may interleave, matching the way the
// teacher's vote workflow fires N concurrent child calls and then joins
// them in call order rather than completion order.
package triad

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/classifier"
	"github.com/noeticlab/noesis/internal/contextbuilder"
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/metrics"
	"github.com/noeticlab/noesis/internal/router"
)

// ReviewerOpinion is one reviewer's verdict on a draft.
type ReviewerOpinion struct {
	Text  string
	Score float64 // [0.0, 1.0]
	Flags []string
}

// unavailableOpinion is substituted for a reviewer role that failed
// terminally, so the arbiter can still run with the roles it has.
func unavailableOpinion() ReviewerOpinion {
	return ReviewerOpinion{Score: 0, Flags: []string{"reviewer_unavailable"}}
}

// JudgeDecision is the arbiter's output: the merged final text plus how
// much weight it assigned each reviewer's input.
type JudgeDecision struct {
	FinalText           string
	Rationale           string
	ContributionWeights map[string]float64 // keys: athena, hermes, argos
}

// Transcript is the full record of one triad round (or the last of several
// rounds, when options.TriadRounds > 1). Degraded is non-empty when the
// arbiter call itself could not be completed (e.g. the tier backing it was
// exhausted) but the round still produced a best-effort result: the prior
// draft stands in as the final text, per §4.6's recovery policy.
type Transcript struct {
	Athena   ReviewerOpinion
	Hermes   ReviewerOpinion
	Argos    ReviewerOpinion
	Judge    JudgeDecision
	Rounds   int
	Degraded string
}

// Completer is the subset of the router's contract the triad needs: one
// call per reviewer role, with usage committed to the shared per-run stats.
type Completer interface {
	ChooseAndComplete(ctx context.Context, req llm.CompletionRequest, stats *accountant.LlmCallsStats) (llm.Output, error)
}

// Options configures a triad run.
type Options struct {
	Rounds          int // options.triad_rounds, >= 1
	TokenBudget     int
	RetrievalBudget []llm.Passage
}

// Runner drives the triad review cycle.
type Runner struct {
	router  Completer
	metrics *metrics.Registry
}

// RunnerOption configures optional Runner behaviour.
type RunnerOption func(*Runner)

// WithMetrics attaches a Prometheus registry; every round and reviewer
// opinion is instrumented against it when set.
func WithMetrics(m *metrics.Registry) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner over a router-shaped Completer.
func New(router Completer, opts ...RunnerOption) *Runner {
	r := &Runner{router: router}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes options.Rounds triad rounds, feeding the arbiter's output
// back in as the draft for the next round, and returns the final draft text
// plus the transcript of the last round run.
func (r *Runner) Run(ctx context.Context, question, initialDraft string, opts Options, stats *accountant.LlmCallsStats) (string, Transcript, error) {
	rounds := opts.Rounds
	if rounds < 1 {
		rounds = 1
	}

	draft := initialDraft
	var transcript Transcript

	for round := 1; round <= rounds; round++ {
		athena, hermes, argos := r.runReviewers(ctx, question, draft, opts, stats)

		judge, err := r.arbitrate(ctx, question, draft, athena, hermes, argos, stats)
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation is fatal to the run; nothing to recover.
				if r.metrics != nil {
					r.metrics.TriadRoundsTotal.WithLabelValues("cancelled").Inc()
				}
				return draft, Transcript{Athena: athena, Hermes: hermes, Argos: argos, Rounds: round}, err
			}
			// A routing failure on the arbiter call (tier exhausted, no
			// eligible provider) is recovered to a best-effort substitute:
			// the draft entering this round stands as the final text, and
			// the round is reported as degraded rather than failed.
			if r.metrics != nil {
				r.metrics.TriadRoundsTotal.WithLabelValues("degraded").Inc()
			}
			return draft, Transcript{
				Athena: athena, Hermes: hermes, Argos: argos,
				Rounds: round, Degraded: degradationReason(err),
			}, nil
		}
		if r.metrics != nil {
			r.metrics.TriadRoundsTotal.WithLabelValues("converged").Inc()
		}

		transcript = Transcript{Athena: athena, Hermes: hermes, Argos: argos, Judge: judge, Rounds: round}
		draft = judge.FinalText
	}

	return draft, transcript, nil
}

// runReviewers fires the three reviewer calls concurrently and returns
// their opinions collected in the fixed literature/rewrite/critique order,
// regardless of which completed first. A terminally failed reviewer is
// represented by a placeholder opinion rather than aborting the round.
func (r *Runner) runReviewers(ctx context.Context, question, draft string, opts Options, stats *accountant.LlmCallsStats) (athena, hermes, argos ReviewerOpinion) {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		athena = r.reviewLiterature(gCtx, question, draft, opts, stats)
		return nil
	})
	g.Go(func() error {
		hermes = r.rewrite(gCtx, question, draft, opts, stats)
		return nil
	})
	g.Go(func() error {
		argos = r.critique(gCtx, question, draft, opts, stats)
		return nil
	})

	// Each reviewer call already converts its own failure into a placeholder
	// opinion rather than returning an error, so g.Wait() never fails; the
	// group exists to join the three goroutines and share gCtx cancellation.
	_ = g.Wait()
	if r.metrics != nil {
		r.observeOpinion("literature", athena)
		r.observeOpinion("rewrite", hermes)
		r.observeOpinion("critique", argos)
	}
	return athena, hermes, argos
}

func (r *Runner) observeOpinion(role string, o ReviewerOpinion) {
	outcome := "ok"
	if isUnavailable(o) {
		outcome = "placeholder"
	}
	r.metrics.TriadOpinionsTotal.WithLabelValues(role, outcome).Inc()
}

func (r *Runner) reviewLiterature(ctx context.Context, question, draft string, opts Options, stats *accountant.LlmCallsStats) ReviewerOpinion {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question:         question,
		PriorDraft:       draft,
		RetrievalResults: opts.RetrievalBudget,
	}, opts.TokenBudget)

	out, err := r.router.ChooseAndComplete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		Meta: classifier.RequestMeta{
			RequiresPhdLevelReasoning: true,
			Role:                      classifier.RoleReviewLiterature,
		},
	}, stats)
	if err != nil {
		return unavailableOpinion()
	}
	return ReviewerOpinion{Text: out.Text, Score: 0.5}
}

func (r *Runner) rewrite(ctx context.Context, question, draft string, opts Options, stats *accountant.LlmCallsStats) ReviewerOpinion {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question:   question,
		PriorDraft: draft,
	}, opts.TokenBudget)

	out, err := r.router.ChooseAndComplete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		Meta: classifier.RequestMeta{
			RequiresHighQuality: true,
			Role:                classifier.RoleRewrite,
		},
	}, stats)
	if err != nil {
		return unavailableOpinion()
	}
	return ReviewerOpinion{Text: out.Text, Score: 0.5}
}

func (r *Runner) critique(ctx context.Context, question, draft string, opts Options, stats *accountant.LlmCallsStats) ReviewerOpinion {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question:         question,
		PriorDraft:       draft,
		RetrievalResults: opts.RetrievalBudget,
	}, opts.TokenBudget)

	out, err := r.router.ChooseAndComplete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		Meta: classifier.RequestMeta{
			HighBiasRisk:              true,
			CriticalSection:           true,
			RequiresPhdLevelReasoning: true,
			Role:                      classifier.RoleCritique,
		},
	}, stats)
	if err != nil {
		return unavailableOpinion()
	}
	return ReviewerOpinion{Text: out.Text, Score: 0.5}
}

// arbitrate runs the arbiter call and distributes contribution weight
// across the three roles, excluding any placeholder (unavailable) opinion
// from receiving weight.
func (r *Runner) arbitrate(ctx context.Context, question, draft string, athena, hermes, argos ReviewerOpinion, stats *accountant.LlmCallsStats) (JudgeDecision, error) {
	prompt := contextbuilder.Assemble(contextbuilder.Input{
		Question: question,
		PriorDraft: draft + "\n\n---\nliterature review:\n" + athena.Text +
			"\n---\nrewrite:\n" + hermes.Text +
			"\n---\ncritique:\n" + argos.Text,
	}, 0)

	out, err := r.router.ChooseAndComplete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		Meta: classifier.RequestMeta{
			HighBiasRisk:    true,
			CriticalSection: true,
			Role:            classifier.RoleArbitrate,
		},
	}, stats)
	if err != nil {
		return JudgeDecision{}, err
	}

	weights := contributionWeights(athena, hermes, argos)
	return JudgeDecision{
		FinalText:           out.Text,
		Rationale:           "synthesized from available reviewer opinions",
		ContributionWeights: weights,
	}, nil
}

func contributionWeights(athena, hermes, argos ReviewerOpinion) map[string]float64 {
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

// degradationReason turns a routing failure on the arbiter call into the
// journal-facing reason string (e.g. "premium_exhausted",
// "no_eligible_provider"), matching the PartialFailure(reason) wording used
// throughout the error taxonomy's worked scenarios.
func degradationReason(err error) string {
	var rerr *router.RoutingError
	if errors.As(err, &rerr) {
		if rerr.Kind == router.TierExhausted && rerr.Tier != "" {
			return fmt.Sprintf("%s_exhausted", strings.ToLower(string(rerr.Tier)))
		}
		return string(rerr.Kind)
	}
	return "arbiter_unavailable"
}

func isUnavailable(o ReviewerOpinion) bool {
	for _, f := range o.Flags {
		if f == "reviewer_unavailable" {
			return true
		}
	}
	return false
}
