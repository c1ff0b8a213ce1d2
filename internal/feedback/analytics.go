package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/artifacts"
	"github.com/noeticlab/noesis/internal/registry"
)

// Summary is the aggregate view over the full journal history (C9).
type Summary struct {
	PipelineRunCount    int                                     `json:"pipeline_run_count"`
	TriadCompletedCount int                                     `json:"triad_completed_count"`
	HumanFeedbackCount  int                                     `json:"human_feedback_count"`
	AcceptanceRatio     float64                                 `json:"acceptance_ratio"`
	RatingP50           float64                                 `json:"rating_p50"`
	RatingP90           float64                                 `json:"rating_p90"`
	RatingMean          float64                                 `json:"rating_mean"`
	TierUsage           map[registry.Tier]accountant.TierUsage `json:"tier_usage"`
}

// Summarize scans the full journal and computes the aggregate view.
func (j *Journal) Summarize() (Summary, error) {
	var s Summary
	s.TierUsage = make(map[registry.Tier]accountant.TierUsage)

	var ratings []float64
	var acceptedCount int

	err := j.Scan(func(e Event) bool {
		switch e.Type {
		case EventPipelineRun:
			s.PipelineRunCount++
			var p PipelineRunPayload
			if err := unmarshalPayload(e, &p); err == nil {
				for tier, usage := range p.LlmStats {
					acc := s.TierUsage[tier]
					acc.Calls += usage.Calls
					acc.Tokens += usage.Tokens
					s.TierUsage[tier] = acc
				}
			}
		case EventTriadCompleted:
			s.TriadCompletedCount++
		case EventHumanFeedback:
			s.HumanFeedbackCount++
			var h HumanFeedbackPayload
			if err := unmarshalPayload(e, &h); err == nil {
				if h.Accepted {
					acceptedCount++
				}
				ratings = append(ratings, float64(h.Rating))
			}
		}
		return true
	})
	if err != nil {
		return Summary{}, fmt.Errorf("feedback: summarize: %w", err)
	}

	if s.HumanFeedbackCount > 0 {
		s.AcceptanceRatio = float64(acceptedCount) / float64(s.HumanFeedbackCount)
	}
	s.RatingP50 = percentile(ratings, 0.50)
	s.RatingP90 = percentile(ratings, 0.90)
	s.RatingMean = mean(ratings)

	return s, nil
}

// percentile returns the value at the given percentile (0.0-1.0) of a
// sorted copy of values, using the same nearest-rank technique as the
// teacher's p95 latency computation.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// TrainingRecord is one exported line of the LoRA training corpus.
type TrainingRecord struct {
	RunID  string `json:"run_id"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// runAccumulator collects the three event fragments needed to decide
// whether a run qualifies for export.
type runAccumulator struct {
	question   string
	finalDraft string
	haveRun    bool
	haveTriad  bool
	feedback   *HumanFeedbackPayload
}

// ExportTrainingCorpus scans the full journal, selects runs that have all
// three event kinds with HumanFeedback.Accepted && Rating >= ratingThreshold,
// and writes one JSONL record per qualifying run to the artifact writer's
// LoraDatasetPath. Export is deterministic: runs are emitted in the order
// in which the first event (of any type) carrying their run id was observed.
func (j *Journal) ExportTrainingCorpus(w *artifacts.Writer, ratingThreshold int) (int, error) {
	runs := make(map[string]*runAccumulator)
	var order []string

	err := j.Scan(func(e Event) bool {
		acc, ok := runs[e.RunID]
		if !ok {
			acc = &runAccumulator{}
			runs[e.RunID] = acc
			order = append(order, e.RunID)
		}

		switch e.Type {
		case EventPipelineRun:
			var p PipelineRunPayload
			if err := unmarshalPayload(e, &p); err == nil {
				acc.haveRun = true
				acc.question = p.Question
			}
		case EventTriadCompleted:
			var t TriadCompletedPayload
			if err := unmarshalPayload(e, &t); err == nil {
				acc.haveTriad = true
				acc.finalDraft = t.Transcript.Judge.FinalText
			}
		case EventHumanFeedback:
			var h HumanFeedbackPayload
			if err := unmarshalPayload(e, &h); err == nil {
				acc.feedback = &h
			}
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("feedback: scan for export: %w", err)
	}

	var lines []byte
	count := 0
	for _, runID := range order {
		acc := runs[runID]
		if !qualifies(acc, ratingThreshold) {
			continue
		}
		initialDraft, err := readTriadInitialDraft(w, runID)
		if err != nil {
			return count, fmt.Errorf("feedback: read initial draft for %s: %w", runID, err)
		}
		rec := TrainingRecord{
			RunID:  runID,
			Input:  acc.question + "\n\n" + initialDraft,
			Output: acc.finalDraft,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return count, fmt.Errorf("feedback: marshal training record for %s: %w", runID, err)
		}
		lines = append(lines, data...)
		lines = append(lines, '\n')
		count++
	}

	if count == 0 {
		return 0, nil
	}
	if err := w.WriteAtomic(w.LoraDatasetPath(), lines); err != nil {
		return 0, fmt.Errorf("feedback: write training corpus: %w", err)
	}
	return count, nil
}

func qualifies(acc *runAccumulator, ratingThreshold int) bool {
	if !acc.haveRun || !acc.haveTriad || acc.feedback == nil {
		return false
	}
	return acc.feedback.Accepted && acc.feedback.Rating >= ratingThreshold
}

// readTriadInitialDraft reads back the pre-triad draft the orchestrator's
// persist phase wrote to triad/<run_id>/initial_draft.md. A run whose triad
// phase never ran (or whose artifact predates this file existing) qualifies
// for export only if a HumanFeedback event still names it, in which case an
// empty string is an acceptable, if uninformative, training input.
func readTriadInitialDraft(w *artifacts.Writer, runID string) (string, error) {
	data, err := os.ReadFile(w.TriadInitialDraftPath(runID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
