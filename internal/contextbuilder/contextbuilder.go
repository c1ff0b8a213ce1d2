// Package contextbuilder implements the Context Assembler (C5): it produces
// the length-budgeted prompt bundle consumed by drafting and by each triad
// reviewer role, truncating lowest-priority sections first and never
// silently dropping the question.
package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/noeticlab/noesis/internal/llm"
)

// Input bundles everything the assembler may draw on. RetrievalResults and
// ObserverContext are opaque, as the capabilities that produce them live
// outside this repo; PriorDraft is set only for review roles.
type Input struct {
	Question         string
	RetrievalResults []llm.Passage
	ObserverContext  map[string]any
	PriorDraft       string
}

// sections are emitted in this fixed priority order, lowest priority
// last so Assemble's tokenBudget trimming reaches it first.
const (
	sectionQuestion = "question"
	sectionDraft    = "prior_draft"
	sectionRetrieve = "retrieval_results"
	sectionObserver = "observer_context"
)

// approxTokens is a coarse token estimate (chars / 4), adequate for a
// budget-enforcement heuristic without depending on a concrete tokenizer.
func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

// Assemble builds an ordered, token-budgeted prompt. Sections are emitted
// highest priority first (question, prior_draft, retrieval_results,
// observer_context); when the cumulative token estimate would exceed
// tokenBudget, lower-priority sections are truncated or dropped entirely
// before the question is ever touched.
func Assemble(in Input, tokenBudget int) string {
	type section struct {
		name string
		body string
	}

	var sections []section
	sections = append(sections, section{sectionQuestion, in.Question})
	if in.PriorDraft != "" {
		sections = append(sections, section{sectionDraft, in.PriorDraft})
	}
	if len(in.RetrievalResults) > 0 {
		var b strings.Builder
		for _, p := range in.RetrievalResults {
			fmt.Fprintf(&b, "[%s] %s\n", p.Source, p.Text)
		}
		sections = append(sections, section{sectionRetrieve, b.String()})
	}
	if len(in.ObserverContext) > 0 {
		var b strings.Builder
		for k, v := range in.ObserverContext {
			fmt.Fprintf(&b, "%s: %v\n", k, v)
		}
		sections = append(sections, section{sectionObserver, b.String()})
	}

	budget := tokenBudget
	if budget <= 0 {
		budget = 1 << 30 // effectively unbounded
	}

	// Reserve room for the question first: it is never truncated away, so
	// whatever it costs comes off the top of the shared budget before lower
	// priority sections are considered at all.
	questionTokens := approxTokens(sections[0].body)
	remaining := budget - questionTokens

	var out strings.Builder
	writeSection(&out, sections[0].name, sections[0].body)

	for _, s := range sections[1:] {
		if remaining <= 0 {
			break
		}
		cost := approxTokens(s.body)
		if cost > remaining {
			s.body = truncateToTokens(s.body, remaining)
			cost = remaining
		}
		if s.body == "" {
			continue
		}
		writeSection(&out, s.name, s.body)
		remaining -= cost
	}

	return out.String()
}

func writeSection(out *strings.Builder, name, body string) {
	fmt.Fprintf(out, "## %s\n%s\n\n", name, strings.TrimRight(body, "\n"))
}

// truncateToTokens trims s to roughly budget tokens worth of characters.
func truncateToTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	maxChars := budget * 4
	if maxChars >= len(s) {
		return s
	}
	return s[:maxChars] + "\n[truncated]"
}
