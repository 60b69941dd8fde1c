// Package deploy ships the build artifact to the device, either through a
// local device bridge or by relaying through an SSH host.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/config"
	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/device"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
	"github.com/devicelab-dev/buildpilot/pkg/relay"
)

// Deploy step names.
const (
	StepSession = "session"
	StepUpload  = "upload"
	StepConnect = "connect"
	StepSend    = "send"
	StepInstall = "install"
)

// Target is the active deploy target. Exactly one kind is used per run.
type Target struct {
	Kind           string        // config.TargetLocal or config.TargetRelay
	Bridge         device.Bridge // Local bridge, or the bridge command on the relay host
	InstallTimeout time.Duration // Local install bound

	Relay         relay.Config
	StagingPath   string
	DevicePath    string
	DeviceAddress string
	Timeouts      config.StepTimeouts
}

// TargetFromConfig selects the configured target.
func TargetFromConfig(cfg *config.Config) Target {
	t := Target{
		Kind: cfg.Deploy.Target,
		Bridge: device.Bridge{
			Path:           cfg.Deploy.Bridge,
			Serial:         cfg.Deploy.Serial,
			FailureMarkers: cfg.Deploy.FailureMarkers,
		},
		InstallTimeout: cfg.Deploy.InstallTimeout,
		Timeouts:       cfg.Deploy.Relay.Timeouts,
	}
	if t.Kind == config.TargetRelay {
		r := cfg.Deploy.Relay
		t.Bridge.Path = r.Bridge
		t.Relay = relay.Config{
			Host:            r.Host,
			Port:            r.Port,
			User:            r.User,
			Password:        r.Password,
			KeyFile:         r.KeyFile,
			KnownHosts:      r.KnownHosts,
			InsecureHostKey: r.InsecureHostKey,
			ConnectTimeout:  r.ConnectTimeout,
		}
		t.StagingPath = r.StagingPath
		t.DevicePath = r.DevicePath
		t.DeviceAddress = r.DeviceAddress
	}
	return t
}

// Describe returns a short human-readable target description.
func (t Target) Describe() string {
	if t.Kind == config.TargetRelay {
		return fmt.Sprintf("relay %s@%s", t.Relay.User, t.Relay.Addr())
	}
	if t.Bridge.Serial != "" {
		return "local device " + t.Bridge.Serial
	}
	return "local device"
}

// StepOutput is the captured output of one deploy step.
type StepOutput struct {
	Step     string        `json:"step"`
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Result lists the steps attempted, in order. A failed deploy ends with the
// failing step.
type Result struct {
	Target string       `json:"target"`
	Steps  []StepOutput `json:"steps"`
}

// Step returns the output of the named step.
func (r *Result) Step(name string) (StepOutput, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepOutput{}, false
}

// Session is the relay connection used by one deploy call.
type Session interface {
	device.Executor
	Upload(ctx context.Context, local, remote string) (int64, error)
	Close() error
}

// DialFunc opens a relay session.
type DialFunc func(ctx context.Context, cfg relay.Config) (Session, error)

// Deployer runs deploys and log queries.
type Deployer struct {
	Local device.Executor
	Dial  DialFunc
}

// New creates a Deployer with the real local executor and SSH dialer.
func New() *Deployer {
	return &Deployer{Local: device.LocalExecutor{}, Dial: dialRelay}
}

func dialRelay(ctx context.Context, cfg relay.Config) (Session, error) {
	s, err := relay.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Deploy installs artifact on the target's device. On failure the returned
// error identifies the step and carries the captured diagnostic.
func (d *Deployer) Deploy(ctx context.Context, artifact string, t Target) (*Result, error) {
	res := &Result{Target: t.Describe()}

	info, err := os.Stat(artifact)
	if err != nil {
		return res, core.ErrArtifactNotFound.WithMessage(fmt.Sprintf("artifact %s", artifact)).WithCause(err)
	}
	if info.IsDir() {
		return res, core.ErrArtifactNotFound.WithMessage(fmt.Sprintf("artifact %s is a directory", artifact))
	}

	switch t.Kind {
	case config.TargetRelay:
		err = d.deployRelay(ctx, artifact, t, res)
	case config.TargetLocal, "":
		err = runStep(ctx, d.Local, t.Bridge, StepInstall, t.Bridge.InstallArgs(artifact), t.InstallTimeout, res)
	default:
		err = core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown deploy target %q", t.Kind))
	}
	if err != nil {
		logger.Error("deploy to %s failed: %v", res.Target, err)
		return res, err
	}
	logger.Info("deployed %s to %s", artifact, res.Target)
	return res, nil
}

func (d *Deployer) deployRelay(ctx context.Context, artifact string, t Target, res *Result) error {
	sess, err := d.open(ctx, t)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := upload(ctx, sess, artifact, t.StagingPath, t.Timeouts.Upload, res); err != nil {
		return err
	}
	if t.DeviceAddress != "" {
		if err := runStep(ctx, sess, t.Bridge, StepConnect, t.Bridge.TconnArgs(t.DeviceAddress), t.Timeouts.Connect, res); err != nil {
			return err
		}
	}
	if err := runStep(ctx, sess, t.Bridge, StepSend, t.Bridge.FileSendArgs(t.StagingPath, t.DevicePath), t.Timeouts.Send, res); err != nil {
		return err
	}
	return runStep(ctx, sess, t.Bridge, StepInstall, t.Bridge.DeviceInstallArgs(t.DevicePath), t.Timeouts.Install, res)
}

func (d *Deployer) open(ctx context.Context, t Target) (Session, error) {
	sess, err := d.Dial(ctx, t.Relay)
	if err != nil {
		var ee *core.ExecutionError
		if errors.As(err, &ee) {
			return nil, ee.WithStep(StepSession)
		}
		return nil, core.ErrConnectionFailed.WithStep(StepSession).WithCause(err)
	}
	return sess, nil
}

func upload(ctx context.Context, sess Session, local, remote string, timeout time.Duration, res *Result) error {
	sctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := sess.Upload(sctx, local, remote)
	out := StepOutput{
		Step:     StepUpload,
		Command:  fmt.Sprintf("sftp put %s %s", local, remote),
		Duration: time.Since(start),
	}
	if err == nil {
		out.Stdout = fmt.Sprintf("%d bytes", n)
	} else {
		out.Stderr = err.Error()
		out.ExitCode = -1
	}
	res.Steps = append(res.Steps, out)

	if err != nil {
		return stepError(ctx, StepUpload, timeout, err)
	}
	return nil
}

// runStep runs one bridge command under its own timeout and checks the result.
func runStep(ctx context.Context, ex device.Executor, b device.Bridge, step string, argv []string, timeout time.Duration, res *Result) error {
	sctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	logger.Debug("deploy %s: %s", step, device.Join(argv))
	out, err := ex.Run(sctx, argv)
	res.Steps = append(res.Steps, StepOutput{
		Step:     step,
		Command:  device.Join(argv),
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: time.Since(start),
	})

	if err != nil {
		return stepError(ctx, step, timeout, err)
	}
	return b.Check(step, out)
}

func stepError(parent context.Context, step string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return context.Cause(parent)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.StepTimeout(step, timeout)
	}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		return ee.WithStep(step)
	}
	return core.ErrRemoteCommandFailed.WithStep(step).WithCause(err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
