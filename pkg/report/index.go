package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
)

// Writer provides thread-safe updates to a run report.
// Every update rewrites the run file and latest.json.
type Writer struct {
	mu     sync.Mutex
	dir    string
	report *Report
	err    error
}

// NewWriter creates a Writer for report under dir.
func NewWriter(dir string, report *Report) *Writer {
	return &Writer{dir: dir, report: report}
}

// Path returns the per-run report file path.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, FileName(w.report.ID))
}

// Start marks the run as started.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.report.Status = StatusRunning
	w.flushLocked()
}

// StageStarted records the stage now executing.
func (w *Writer) StageStarted(stage string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.report.CurrentStage = stage
	w.flushLocked()
}

// StageFinished appends a terminal stage result.
func (w *Writer) StageFinished(r core.StageResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.report.CurrentStage = ""
	w.report.Stages = append(w.report.Stages, r)
	w.flushLocked()
}

// SetDeploy attaches the per-step deploy output.
func (w *Writer) SetDeploy(res *deploy.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.report.Deploy = res
}

// End copies the final run state and writes the report a last time.
// It returns the first write error seen during the run.
func (w *Writer) End(run *core.PipelineRun) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.report.EndTime = &now
	w.report.CurrentStage = ""
	w.report.Stages = append([]core.StageResult{}, run.Stages...)
	w.report.Status = run.Status()
	w.report.AbortedAt = run.AbortedAt
	w.report.Reason = run.Reason
	w.report.Uncertain = run.Uncertain()
	w.report.Summary = run.Summary()
	w.flushLocked()
	return w.err
}

// Report returns a copy of the current report.
func (w *Writer) Report() Report {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := *w.report
	r.Stages = append([]core.StageResult{}, w.report.Stages...)
	return r
}

// flushLocked writes the report while holding the lock.
func (w *Writer) flushLocked() {
	w.report.UpdateSeq++
	w.report.LastUpdated = time.Now()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.fail(fmt.Errorf("create report dir: %w", err))
		return
	}
	if err := atomicWriteJSON(w.Path(), w.report); err != nil {
		w.fail(err)
		return
	}
	if err := atomicWriteJSON(filepath.Join(w.dir, LatestFile), w.report); err != nil {
		w.fail(err)
	}
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
		logger.Warn("report write failed: %v", err)
	}
}

// Write writes a finished run in one call.
func Write(dir string, run *core.PipelineRun, meta Meta) (string, error) {
	w := NewWriter(dir, New(run, meta))
	if err := w.End(run); err != nil {
		return "", err
	}
	return w.Path(), nil
}

// Read loads a report file.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}

// ReadLatest loads latest.json from dir.
func ReadLatest(dir string) (*Report, error) {
	return Read(filepath.Join(dir, LatestFile))
}

// atomicWriteJSON writes v to a temp file in the same directory and renames
// it over path.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
