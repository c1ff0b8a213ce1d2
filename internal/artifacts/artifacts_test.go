package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAtomicCreatesFileWithContent(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	path := w.DraftPath("run123", day)

	if err := w.WriteAtomic(path, []byte("draft content")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "draft content" {
		t.Errorf("unexpected content: %q", got)
	}
	if filepath.Base(path) != "20260730_run123.md" {
		t.Errorf("unexpected filename: %s", filepath.Base(path))
	}
}

func TestWriteAtomicRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	path := filepath.Join(dir, "logs", "pipeline", "x.json")

	if err := w.WriteAtomic(path, []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := w.WriteAtomic(path, []byte("second")); err == nil {
		t.Fatal("expected error on second write to the same path")
	}
	got, _ := os.ReadFile(path)
	if string(got) != "first" {
		t.Errorf("expected original content preserved, got %q", got)
	}
}

func TestWriteAtomicNoTempFileLeftBehindOnSuccess(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	path := filepath.Join(dir, "feedback", "feedback_events.jsonl")
	if err := w.WriteAtomic(path, []byte("{}\n")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "feedback_events.jsonl" {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestEnsureRunDirIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	if err := w.EnsureRunDir("run1"); err != nil {
		t.Fatalf("EnsureRunDir: %v", err)
	}
	if err := w.EnsureRunDir("run1"); err != nil {
		t.Fatalf("EnsureRunDir (second call): %v", err)
	}
	if _, err := os.Stat(w.TriadDir("run1")); err != nil {
		t.Errorf("expected triad dir to exist: %v", err)
	}
}

func TestPathLayoutMatchesSpec(t *testing.T) {
	w := New("/data")
	runID := "abc123"
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	cases := map[string]string{
		"draft":     w.DraftPath(runID, day),
		"report":    w.RunReportPath(runID, day),
		"initial":   w.TriadInitialDraftPath(runID),
		"final":     w.TriadFinalDraftPath(runID),
		"transcript": w.TriadTranscriptPath(runID),
		"events":    w.FeedbackEventsPath(),
		"lora":      w.LoraDatasetPath(),
	}
	want := map[string]string{
		"draft":      "/data/papers/drafts/20260105_abc123.md",
		"report":     "/data/logs/pipeline/20260105_abc123.json",
		"initial":    "/data/triad/abc123/initial_draft.md",
		"final":      "/data/triad/abc123/final_draft.md",
		"transcript": "/data/triad/abc123/transcript.json",
		"events":     "/data/feedback/feedback_events.jsonl",
		"lora":       "/data/feedback/lora_dataset.jsonl",
	}
	for k, w := range want {
		if cases[k] != w {
			t.Errorf("%s: expected %s, got %s", k, w, cases[k])
		}
	}
}
