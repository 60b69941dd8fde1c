// Package executor orchestrates the build, wait and deploy pipeline.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/buildpilot/pkg/catalog"
	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
	"github.com/devicelab-dev/buildpilot/pkg/input"
	"github.com/devicelab-dev/buildpilot/pkg/lock"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
	"github.com/devicelab-dev/buildpilot/pkg/report"
	"github.com/devicelab-dev/buildpilot/pkg/watcher"
	"github.com/devicelab-dev/buildpilot/pkg/window"
)

// Config configures a pipeline run.
type Config struct {
	Patterns      []string      // Window title patterns, priority order
	LocateTimeout time.Duration // 0 = single scan
	BuildAction   catalog.ActionSpec

	Artifact     string
	Epsilon      time.Duration
	WatchTimeout time.Duration
	PollInterval time.Duration

	Target deploy.Target

	LockPath      string        // Empty disables the run lock
	GuardInterval time.Duration // Fail-safe pointer poll while waiting
	ReportDir     string        // Empty disables the JSON report

	// Live progress callbacks
	OnStageStart func(stage string)
	OnStageEnd   func(r core.StageResult)
}

// Deployer installs an artifact on a target.
type Deployer interface {
	Deploy(ctx context.Context, artifact string, t deploy.Target) (*deploy.Result, error)
}

// Result is the outcome of a pipeline run. Fields after Run are set only
// for stages that executed.
type Result struct {
	Run       *core.PipelineRun
	Window    *window.Handle
	Execution *catalog.Execution
	Outcome   watcher.Outcome
	Deploy    *deploy.Result
	Report    string // Report file path, when written
}

// Pipeline runs the stages against one desktop and one deploy target.
type Pipeline struct {
	config   Config
	locator  *window.Locator
	input    *input.Controller
	actions  *catalog.Runner
	deployer Deployer

	newID func() string
}

// New creates a Pipeline.
func New(cfg Config, loc *window.Locator, in *input.Controller, actions *catalog.Runner, d Deployer) *Pipeline {
	return &Pipeline{
		config:   cfg,
		locator:  loc,
		input:    in,
		actions:  actions,
		deployer: d,
		newID:    uuid.NewString,
	}
}

// Run executes the stages in order and stops at the first stage that does
// not finish ok. The returned error is the aborting stage's error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	run := core.NewPipelineRun(p.newID())
	res := &Result{Run: run}

	if p.config.LockPath != "" {
		l, err := lock.Acquire(p.config.LockPath)
		if err != nil {
			run.Finish()
			return res, err
		}
		defer l.Release() //nolint:errcheck
	}

	var rw *report.Writer
	if p.config.ReportDir != "" {
		rw = report.NewWriter(p.config.ReportDir, report.New(run, report.Meta{
			Window:   p.config.Patterns,
			Action:   p.config.BuildAction.String(),
			Artifact: p.config.Artifact,
			Target:   p.config.Target.Describe(),
		}))
		rw.Start()
		res.Report = rw.Path()
	}

	gctx, stop := p.input.Guard(ctx, p.config.GuardInterval)
	defer stop()

	logger.Info("run %s: %s -> %s", run.ID, strings.Join(p.config.Patterns, "|"), p.config.Target.Describe())
	err := p.stages(gctx, res, rw)
	run.Finish()

	if rw != nil {
		rw.SetDeploy(res.Deploy)
		if werr := rw.End(run); werr != nil {
			logger.Warn("run %s: report incomplete: %v", run.ID, werr)
		}
	}
	logger.Info("run %s: %s", run.ID, run.Summary())
	return res, err
}

// stageFunc runs one stage and returns its detail line and whether its
// input went unconfirmed.
type stageFunc func(ctx context.Context) (detail string, uncertain bool, err error)

func (p *Pipeline) stages(ctx context.Context, res *Result, rw *report.Writer) error {
	var ref watcher.ArtifactRef

	steps := []struct {
		name string
		fn   stageFunc
	}{
		{core.StageLocateWindow, func(ctx context.Context) (string, bool, error) {
			h, err := p.LocateStage(ctx)
			if err != nil {
				return "", false, err
			}
			res.Window = h
			return fmt.Sprintf("found %q (%s)", h.Title, h.ID), false, nil
		}},
		{core.StageActivate, func(ctx context.Context) (string, bool, error) {
			confirmed, err := p.ActivateStage(ctx, res.Window)
			if err != nil {
				return "", false, err
			}
			if !confirmed {
				return "foreground request not confirmed", true, nil
			}
			return "window in foreground", false, nil
		}},
		{core.StageTriggerBuild, func(ctx context.Context) (string, bool, error) {
			// Baseline before any input so a fast build is not mistaken for stale.
			var err error
			ref, err = watcher.Baseline(p.config.Artifact, p.config.Epsilon)
			if err != nil {
				return "", false, err
			}
			exec, err := p.TriggerStage(ctx, res.Window, p.config.BuildAction)
			res.Execution = exec
			if err != nil {
				return "", false, err
			}
			detail := fmt.Sprintf("%s sent (%d steps)", exec.Action, len(exec.Steps))
			if exec.Uncertain() {
				detail += ", delivery unconfirmed"
			}
			return detail, exec.Uncertain(), nil
		}},
		{core.StageAwaitArtifact, func(ctx context.Context) (string, bool, error) {
			out, err := p.AwaitStage(ctx, ref)
			res.Outcome = out
			return out.String(), false, err
		}},
		{core.StageDeploy, func(ctx context.Context) (string, bool, error) {
			dres, err := p.DeployStage(ctx)
			res.Deploy = dres
			if err != nil {
				// A rewritten artifact that cannot be installed is not a completed build.
				res.Run.MarkUnverified(core.StageAwaitArtifact, "unverified: deploy failed")
				return "", false, err
			}
			return fmt.Sprintf("installed on %s", dres.Target), false, nil
		}},
	}

	for _, s := range steps {
		if err := p.runStage(ctx, res.Run, rw, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, run *core.PipelineRun, rw *report.Writer, name string, fn stageFunc) error {
	if p.config.OnStageStart != nil {
		p.config.OnStageStart(name)
	}
	if rw != nil {
		rw.StageStarted(name)
	}

	start := time.Now()
	var (
		detail    string
		uncertain bool
		err       error
	)
	if ctx.Err() != nil {
		err = context.Cause(ctx)
	} else {
		detail, uncertain, err = fn(ctx)
	}

	r := core.NewStageResult(name, start, detail, err)
	r.Uncertain = uncertain
	run.Append(r)
	logger.Debug("stage %s: %s %s", name, r.Status, r.Detail)

	if p.config.OnStageEnd != nil {
		p.config.OnStageEnd(r)
	}
	if rw != nil {
		rw.StageFinished(r)
	}
	return err
}

// LocateStage finds the IDE window, polling up to LocateTimeout.
func (p *Pipeline) LocateStage(ctx context.Context) (*window.Handle, error) {
	return p.locator.WaitFor(ctx, p.config.Patterns, p.config.LocateTimeout)
}

// ActivateStage brings h to the foreground. false means the request was
// sent but not confirmed.
func (p *Pipeline) ActivateStage(ctx context.Context, h *window.Handle) (bool, error) {
	if err := p.input.CheckFailSafe(ctx); err != nil {
		return false, err
	}
	return p.locator.Activate(ctx, h)
}

// TriggerStage sends the action's input to h.
func (p *Pipeline) TriggerStage(ctx context.Context, h *window.Handle, action catalog.ActionSpec) (*catalog.Execution, error) {
	return p.actions.Execute(ctx, action, h)
}

// AwaitStage waits for the artifact to be rewritten. Running out of time
// returns ErrWatchTimeout along with the outcome.
func (p *Pipeline) AwaitStage(ctx context.Context, ref watcher.ArtifactRef) (watcher.Outcome, error) {
	out, err := watcher.AwaitChange(ctx, ref, p.config.WatchTimeout, p.config.PollInterval)
	if err != nil {
		return out, err
	}
	if out.TimedOut() {
		return out, core.ErrWatchTimeout.WithMessage(out.String())
	}
	return out, nil
}

// DeployStage installs the artifact on the configured target.
func (p *Pipeline) DeployStage(ctx context.Context) (*deploy.Result, error) {
	return p.deployer.Deploy(ctx, p.config.Artifact, p.config.Target)
}
