// Package core provides the execution model types for buildpilot.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage names, in pipeline order.
const (
	StageLocateWindow  = "LocateWindow"
	StageActivate      = "Activate"
	StageTriggerBuild  = "TriggerBuild"
	StageAwaitArtifact = "AwaitArtifact"
	StageDeploy        = "Deploy"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{
	StageLocateWindow,
	StageActivate,
	StageTriggerBuild,
	StageAwaitArtifact,
	StageDeploy,
}

// StageResult captures the outcome of a single pipeline stage
type StageResult struct {
	Stage  string      `json:"stage"`
	Status StageStatus `json:"status"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Output
	Detail string `json:"detail,omitempty"` // Human-readable explanation

	// Uncertain marks a stage that sent input with no way to confirm it landed.
	Uncertain bool `json:"uncertain,omitempty"`

	// Unverified marks an ok stage whose result a later stage failed to confirm.
	Unverified bool `json:"unverified,omitempty"`

	// Error details
	Category   ErrorCategory `json:"errorCategory,omitempty"`
	Step       string        `json:"step,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// NewStageResult builds a terminal result from a stage outcome.
func NewStageResult(stage string, start time.Time, detail string, err error) StageResult {
	r := StageResult{
		Stage:     stage,
		Status:    StatusFromError(err),
		StartTime: start,
		Duration:  time.Since(start),
		Detail:    detail,
	}
	if err != nil {
		r.Category = CategoryOf(err)
		r.Error = err.Error()
		var ee *ExecutionError
		if errors.As(err, &ee) {
			r.Step = ee.Step
			r.Diagnostic = ee.Diagnostic
		}
		if r.Detail == "" {
			r.Detail = r.Error
		}
	}
	return r
}

// PipelineRun is the append-only record of one pipeline invocation
type PipelineRun struct {
	ID        string        `json:"id"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Stages []StageResult `json:"stages"`

	// Set when a stage aborted the run
	AbortedAt string `json:"abortedAt,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewPipelineRun starts an empty run record
func NewPipelineRun(id string) *PipelineRun {
	return &PipelineRun{ID: id, StartTime: time.Now()}
}

// Append records a finished stage. A non-ok stage marks the run aborted.
func (p *PipelineRun) Append(r StageResult) {
	p.Stages = append(p.Stages, r)
	if !r.Status.IsSuccess() && p.AbortedAt == "" {
		p.AbortedAt = r.Stage
		p.Reason = r.Detail
	}
}

// Finish stamps the total duration
func (p *PipelineRun) Finish() {
	p.Duration = time.Since(p.StartTime)
}

// Status is the worst status among recorded stages (failed > timeout > ok).
// A run with no stages reports ok.
func (p *PipelineRun) Status() StageStatus {
	status := StatusOK
	for _, s := range p.Stages {
		status = Worst(status, s.Status)
	}
	return status
}

// Success returns true if every recorded stage is ok and the run was not aborted
func (p *PipelineRun) Success() bool {
	return p.AbortedAt == "" && p.Status() == StatusOK
}

// Uncertain returns true if any stage delivered input without confirmation
func (p *PipelineRun) Uncertain() bool {
	for _, s := range p.Stages {
		if s.Uncertain {
			return true
		}
	}
	return false
}

// MarkUnverified flags the named ok stage as unverified and appends note to
// its detail. The status is left as recorded. It reports whether a stage
// was marked.
func (p *PipelineRun) MarkUnverified(stage, note string) bool {
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Stage != stage || s.Status != StatusOK || s.Unverified {
			continue
		}
		s.Unverified = true
		s.Detail = strings.TrimSpace(s.Detail + " (" + note + ")")
		return true
	}
	return false
}

// Stage returns the recorded result for the named stage
func (p *PipelineRun) Stage(name string) (StageResult, bool) {
	for _, s := range p.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Summary returns the single-line success/failure summary
func (p *PipelineRun) Summary() string {
	if p.Success() {
		var b strings.Builder
		fmt.Fprintf(&b, "SUCCESS: %d stages in %s", len(p.Stages), p.Duration.Round(time.Millisecond))
		if p.Uncertain() {
			b.WriteString(" (input delivery unconfirmed)")
		}
		return b.String()
	}
	status := p.Status()
	if s, ok := p.Stage(p.AbortedAt); ok {
		status = s.Status
	}
	return fmt.Sprintf("FAILED at %s (%s): %s", p.AbortedAt, status, p.Reason)
}
