// Command noesisctl is a small operator CLI over a feedback journal file:
// tagging runs with human acceptance/rating, summarizing run history, and
// exporting the accepted-run training corpus.
package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/noeticlab/noesis/internal/artifacts"
	"github.com/noeticlab/noesis/internal/feedback"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("noesisctl %s\n", version)
	case "tag":
		doTag(args)
	case "summary":
		doSummary(args)
	case "export":
		doExport(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() { usageTo(os.Stderr) }

func usageTo(w *os.File) {
	fmt.Fprint(w, `noesisctl — operate on a noesis feedback journal

Usage: noesisctl <command> [arguments]

Commands:
  tag <journal> <run_id> <accepted> <rating> [notes]
                               Record human feedback for a completed run.
                               accepted is "true" or "false"; rating is 0-10.
  summary <journal>            Print aggregate run counts, acceptance ratio,
                               rating percentiles, and per-tier usage.
  export <journal> <out_root> <rating_threshold>
                               Write the accepted-run training corpus as
                               JSONL to <out_root>/feedback/lora_dataset.jsonl.

  version                      Show version
  help                         Show this help

Examples:
  noesisctl tag ./data/feedback_events.jsonl run-1a2b3c true 9 "good synthesis"
  noesisctl summary ./data/feedback_events.jsonl
  noesisctl export ./data/feedback_events.jsonl ./data 8
`)
}

func openJournal(path string) *feedback.Journal {
	j, err := feedback.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: open journal: %v\n", err)
		os.Exit(1)
	}
	return j
}

func doTag(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: noesisctl tag <journal> <run_id> <accepted> <rating> [notes]")
		os.Exit(1)
	}
	j := openJournal(args[0])
	defer j.Close()

	runID := args[1]
	accepted, err := strconv.ParseBool(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: invalid accepted value %q: %v\n", args[2], err)
		os.Exit(1)
	}
	rating, err := strconv.Atoi(args[3])
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: invalid rating %q: %v\n", args[3], err)
		os.Exit(1)
	}
	var notes string
	if len(args) > 4 {
		notes = args[4]
	}

	if err := j.TagRun(runID, accepted, rating, notes); err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: tag run: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("tagged %s: accepted=%v rating=%d\n", runID, accepted, rating)
}

func doSummary(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: noesisctl summary <journal>")
		os.Exit(1)
	}
	j := openJournal(args[0])
	defer j.Close()

	summary, err := j.Summarize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: summarize: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "pipeline runs:\t%d\n", summary.PipelineRunCount)
	fmt.Fprintf(w, "triad completions:\t%d\n", summary.TriadCompletedCount)
	fmt.Fprintf(w, "human feedback:\t%d\n", summary.HumanFeedbackCount)
	fmt.Fprintf(w, "acceptance ratio:\t%.2f\n", summary.AcceptanceRatio)
	fmt.Fprintf(w, "rating p50:\t%.1f\n", summary.RatingP50)
	fmt.Fprintf(w, "rating p90:\t%.1f\n", summary.RatingP90)
	fmt.Fprintf(w, "rating mean:\t%.1f\n", summary.RatingMean)
	w.Flush()

	if len(summary.TierUsage) > 0 {
		fmt.Println("\nper-tier usage:")
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "tier\tcalls\ttokens")
		for tier, usage := range summary.TierUsage {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", tier, usage.Calls, usage.Tokens)
		}
		tw.Flush()
	}
}

func doExport(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: noesisctl export <journal> <out_root> <rating_threshold>")
		os.Exit(1)
	}
	j := openJournal(args[0])
	defer j.Close()

	threshold, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: invalid rating threshold %q: %v\n", args[2], err)
		os.Exit(1)
	}

	aw := artifacts.New(args[1])
	n, err := j.ExportTrainingCorpus(aw, threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesisctl: export: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d training record(s)\n", n)
}
