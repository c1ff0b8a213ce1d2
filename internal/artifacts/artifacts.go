// Package artifacts implements the Artifact Writer (C10): every path it
// produces derives from a single data root plus a run id, the directory is
// created on first use, and every write is atomic (temp file in the same
// directory, then rename) and refuses to clobber an existing target.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Writer roots every artifact path under DataRoot.
type Writer struct {
	DataRoot string
}

// New creates a Writer rooted at dataRoot.
func New(dataRoot string) *Writer {
	return &Writer{DataRoot: dataRoot}
}

// DraftPath returns the path for a run's initial draft under
// papers/drafts/<YYYYMMDD>_<run_id>.md.
func (w *Writer) DraftPath(runID string, day time.Time) string {
	return filepath.Join(w.DataRoot, "papers", "drafts", fmt.Sprintf("%s_%s.md", day.UTC().Format("20060102"), runID))
}

// RenderedPath returns the path for a renderer-produced derivative of the
// draft, under the same papers/drafts directory.
func (w *Writer) RenderedPath(runID string, day time.Time, ext string) string {
	return filepath.Join(w.DataRoot, "papers", "drafts", fmt.Sprintf("%s_%s.%s", day.UTC().Format("20060102"), runID, ext))
}

// RunReportPath returns the path for a run's persisted RunReport.
func (w *Writer) RunReportPath(runID string, day time.Time) string {
	return filepath.Join(w.DataRoot, "logs", "pipeline", fmt.Sprintf("%s_%s.json", day.UTC().Format("20060102"), runID))
}

// TriadDir returns the run-scoped triad directory.
func (w *Writer) TriadDir(runID string) string {
	return filepath.Join(w.DataRoot, "triad", runID)
}

// TriadInitialDraftPath, TriadFinalDraftPath, TriadTranscriptPath return the
// three fixed filenames under TriadDir.
func (w *Writer) TriadInitialDraftPath(runID string) string {
	return filepath.Join(w.TriadDir(runID), "initial_draft.md")
}
func (w *Writer) TriadFinalDraftPath(runID string) string {
	return filepath.Join(w.TriadDir(runID), "final_draft.md")
}
func (w *Writer) TriadTranscriptPath(runID string) string {
	return filepath.Join(w.TriadDir(runID), "transcript.json")
}

// FeedbackEventsPath and LoraDatasetPath are the two feedback journal files;
// both live directly under data_root/feedback, shared across all runs.
func (w *Writer) FeedbackEventsPath() string {
	return filepath.Join(w.DataRoot, "feedback", "feedback_events.jsonl")
}
func (w *Writer) LoraDatasetPath() string {
	return filepath.Join(w.DataRoot, "feedback", "lora_dataset.jsonl")
}

// WriteAtomic creates path's parent directory if needed, writes data to a
// temp file in the same directory, then renames it into place. It refuses
// to overwrite an existing target.
func (w *Writer) WriteAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("artifacts: refusing to overwrite existing file %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: stat %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("artifacts: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("artifacts: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifacts: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("artifacts: rename into place: %w", err)
	}
	return nil
}

// EnsureRunDir creates the run-scoped triad directory, idempotently.
func (w *Writer) EnsureRunDir(runID string) error {
	if err := os.MkdirAll(w.TriadDir(runID), 0o755); err != nil {
		return fmt.Errorf("artifacts: ensure run dir: %w", err)
	}
	return nil
}
