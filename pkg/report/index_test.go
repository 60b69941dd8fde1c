package report

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
)

func TestWriter_LiveUpdates(t *testing.T) {
	dir := t.TempDir()
	run := core.NewPipelineRun("abc")
	w := NewWriter(dir, New(run, Meta{Window: []string{"DevEco Studio"}, Action: "build", Target: "local device"}))

	w.Start()
	latest, err := ReadLatest(dir)
	if err != nil {
		t.Fatalf("ReadLatest failed: %v", err)
	}
	if latest.Status != core.StatusRunning || latest.ID != "abc" {
		t.Errorf("after Start: status=%s id=%s", latest.Status, latest.ID)
	}

	w.StageStarted(core.StageLocateWindow)
	latest, _ = ReadLatest(dir)
	if latest.CurrentStage != core.StageLocateWindow {
		t.Errorf("CurrentStage = %q", latest.CurrentStage)
	}

	r := core.NewStageResult(core.StageLocateWindow, time.Now(), "found", nil)
	run.Append(r)
	w.StageFinished(r)
	latest, _ = ReadLatest(dir)
	if len(latest.Stages) != 1 || latest.CurrentStage != "" {
		t.Errorf("after StageFinished: %+v", latest)
	}
	if latest.UpdateSeq != 3 {
		t.Errorf("UpdateSeq = %d, want 3", latest.UpdateSeq)
	}
}

func TestWriter_EndRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	run := core.NewPipelineRun("r2")
	run.Append(core.NewStageResult(core.StageAwaitArtifact, time.Now(), "artifact rewritten", nil))
	run.Append(core.NewStageResult(core.StageDeploy, time.Now(), "", core.RemoteCommandFailed("install", "signature verification failed")))
	run.Finish()

	w := NewWriter(dir, New(run, Meta{Artifact: "/out/app.hap"}))
	w.SetDeploy(&deploy.Result{Target: "relay builder@10.8.0.2:22", Steps: []deploy.StepOutput{{Step: "install", ExitCode: 1}}})
	if err := w.End(run); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	got, err := Read(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.StatusFailed || got.AbortedAt != core.StageDeploy {
		t.Errorf("status=%s abortedAt=%s", got.Status, got.AbortedAt)
	}
	if got.EndTime == nil {
		t.Error("EndTime not set")
	}
	s := got.Stages[1]
	if s.Step != "install" || s.Category != core.ErrCategoryRemoteCommandFailed {
		t.Errorf("deploy stage = %+v", s)
	}
	if !strings.Contains(got.Summary, "signature verification failed") {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.Deploy == nil || got.Deploy.Steps[0].ExitCode != 1 {
		t.Errorf("Deploy = %+v", got.Deploy)
	}
}

func TestWrite_OneShot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	run := core.NewPipelineRun("r3")
	for _, s := range core.Stages {
		run.Append(core.StageResult{Stage: s, Status: core.StatusOK})
	}
	run.Finish()

	path, err := Write(dir, run, Meta{})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Base(path) != "run-r3.json" {
		t.Errorf("path = %q", path)
	}
	latest, err := ReadLatest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Status != core.StatusOK || !strings.HasPrefix(latest.Summary, "SUCCESS") {
		t.Errorf("latest = %s %q", latest.Status, latest.Summary)
	}
}

func TestWriter_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	run := core.NewPipelineRun("r4")
	w := NewWriter(dir, New(run, Meta{}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.StageStarted(core.StageDeploy)
		}()
	}
	wg.Wait()
	w.End(run)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("report dir = %v, want run file and latest.json only", names)
	}
	if w.Report().UpdateSeq != 11 {
		t.Errorf("UpdateSeq = %d, want 11", w.Report().UpdateSeq)
	}
}

func TestWriter_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	run := core.NewPipelineRun("r5")
	if _, err := Write(file, run, Meta{}); err == nil {
		t.Error("Write() into a file path returned nil error")
	}
}

func TestRead_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{"), 0o644)
	if _, err := Read(path); err == nil {
		t.Error("Read() of invalid JSON returned nil error")
	}
}
