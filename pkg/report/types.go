// Package report writes JSON run reports with live updates.
//
// Layout under the report directory:
//   - run-<id>.json: one file per pipeline run, rewritten at every stage transition
//   - latest.json: copy of the most recent run file
//
// Files are replaced atomically so a reader polling latest.json never sees a
// partial document.
package report

import (
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
)

// Version is the report schema version.
const Version = "1"

// LatestFile is the name of the most-recent-run copy.
const LatestFile = "latest.json"

// StatusRunning marks a report whose run has not finished.
const StatusRunning = core.StatusRunning

// Report is the persisted record of one pipeline run.
type Report struct {
	Version     string           `json:"version"`
	UpdateSeq   uint64           `json:"updateSeq"`
	ID          string           `json:"id"`
	Status      core.StageStatus `json:"status"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated"`

	// What was run
	Window   []string `json:"window,omitempty"`
	Action   string   `json:"action,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
	Target   string   `json:"target,omitempty"`

	CurrentStage string             `json:"currentStage,omitempty"`
	Stages       []core.StageResult `json:"stages"`
	Deploy       *deploy.Result     `json:"deploy,omitempty"`

	AbortedAt string `json:"abortedAt,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Uncertain bool   `json:"uncertain,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Meta describes the run being reported.
type Meta struct {
	Window   []string
	Action   string
	Artifact string
	Target   string
}

// New creates a pending report for run.
func New(run *core.PipelineRun, meta Meta) *Report {
	return &Report{
		Version:   Version,
		ID:        run.ID,
		Status:    core.StatusPending,
		StartTime: run.StartTime,
		Window:    meta.Window,
		Action:    meta.Action,
		Artifact:  meta.Artifact,
		Target:    meta.Target,
		Stages:    []core.StageResult{},
	}
}

// FileName returns the per-run file name for id.
func FileName(id string) string {
	return "run-" + id + ".json"
}
