package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/config"
	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/device"
	"github.com/devicelab-dev/buildpilot/pkg/relay"
)

// fakeSession scripts bridge commands by substring of the joined command line.
type fakeSession struct {
	mu       sync.Mutex
	outputs  map[string]device.Output
	delays   map[string]time.Duration
	stream   string
	commands []string
	uploads  []string
	closed   int
}

func (f *fakeSession) Run(ctx context.Context, argv []string) (device.Output, error) {
	line := strings.Join(argv, " ")
	f.mu.Lock()
	f.commands = append(f.commands, line)
	f.mu.Unlock()

	for key, d := range f.delays {
		if strings.Contains(line, key) {
			select {
			case <-ctx.Done():
				return device.Output{ExitCode: -1}, ctx.Err()
			case <-time.After(d):
			}
		}
	}
	for key, out := range f.outputs {
		if strings.Contains(line, key) {
			return out, nil
		}
	}
	return device.Output{Stdout: "ok\n"}, nil
}

func (f *fakeSession) Stream(ctx context.Context, argv []string, w io.Writer) error {
	_, err := io.WriteString(w, f.stream)
	return err
}

func (f *fakeSession) Upload(ctx context.Context, local, remote string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, local+" -> "+remote)
	info, err := os.Stat(local)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func newArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entry-default-signed.hap")
	if err := os.WriteFile(path, []byte("hap"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func relayTarget() Target {
	cfg := config.Default()
	cfg.Artifact.Path = "/out/entry-default-signed.hap"
	cfg.Deploy.Target = config.TargetRelay
	cfg.Deploy.Relay.Host = "10.8.0.2"
	cfg.Deploy.Relay.User = "builder"
	cfg.Deploy.Relay.Password = "secret"
	cfg.Deploy.Relay.DeviceAddress = "192.168.137.188:34999"
	cfg.SetDefaults()
	return TargetFromConfig(cfg)
}

func relayDeployer(sess *fakeSession, dials *int) *Deployer {
	return &Deployer{
		Local: sess,
		Dial: func(ctx context.Context, cfg relay.Config) (Session, error) {
			*dials++
			return sess, nil
		},
	}
}

func TestTargetFromConfig(t *testing.T) {
	tgt := relayTarget()
	if tgt.Kind != config.TargetRelay {
		t.Errorf("Kind = %q", tgt.Kind)
	}
	if tgt.StagingPath != "/tmp/entry-default-signed.hap" || tgt.DevicePath != "/data/local/tmp/entry-default-signed.hap" {
		t.Errorf("paths = %q, %q", tgt.StagingPath, tgt.DevicePath)
	}
	if tgt.Relay.Addr() != "10.8.0.2:22" {
		t.Errorf("Addr() = %q", tgt.Relay.Addr())
	}
	if tgt.Bridge.FailureMarkers[0] != "[Fail]" {
		t.Errorf("FailureMarkers = %v", tgt.Bridge.FailureMarkers)
	}
	if !strings.Contains(tgt.Describe(), "builder@10.8.0.2") {
		t.Errorf("Describe() = %q", tgt.Describe())
	}
}

func TestDeploy_LocalSuccess(t *testing.T) {
	sess := &fakeSession{outputs: map[string]device.Output{"install": {Stdout: "install bundle successfully.\n"}}}
	d := &Deployer{Local: sess}
	artifact := newArtifact(t)

	res, err := d.Deploy(context.Background(), artifact, Target{Kind: config.TargetLocal, Bridge: device.Bridge{Path: "hdc", Serial: "FMR0223"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Steps) != 1 || res.Steps[0].Step != StepInstall {
		t.Fatalf("Steps = %+v", res.Steps)
	}
	if sess.commands[0] != "hdc -t FMR0223 install -r "+artifact {
		t.Errorf("command = %q", sess.commands[0])
	}
}

func TestDeploy_LocalInstallFails(t *testing.T) {
	// Real subprocess: exit 1 with the diagnostic on stderr.
	bin := filepath.Join(t.TempDir(), "hdc")
	script := "#!/bin/sh\necho 'signature verification failed' >&2\nexit 1\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	d := New()

	res, err := d.Deploy(context.Background(), newArtifact(t), Target{Kind: config.TargetLocal, Bridge: device.Bridge{Path: bin}})
	if !errors.Is(err, core.ErrRemoteCommandFailed) {
		t.Fatalf("error = %v, want RemoteCommandFailed", err)
	}
	var ee *core.ExecutionError
	errors.As(err, &ee)
	if ee.Step != "install" || ee.Diagnostic != "signature verification failed" {
		t.Errorf("Step/Diagnostic = %q/%q", ee.Step, ee.Diagnostic)
	}
	if s, ok := res.Step(StepInstall); !ok || s.ExitCode != 1 {
		t.Errorf("install step = %+v", s)
	}
}

func TestDeploy_ArtifactMissing(t *testing.T) {
	sess := &fakeSession{}
	dials := 0
	d := relayDeployer(sess, &dials)

	_, err := d.Deploy(context.Background(), filepath.Join(t.TempDir(), "missing.hap"), relayTarget())
	if !errors.Is(err, core.ErrArtifactNotFound) {
		t.Errorf("error = %v, want ErrArtifactNotFound", err)
	}
	if dials != 0 || len(sess.commands) != 0 {
		t.Error("transport used for a missing artifact")
	}
}

func TestDeploy_RelaySequence(t *testing.T) {
	sess := &fakeSession{}
	dials := 0
	d := relayDeployer(sess, &dials)
	artifact := newArtifact(t)

	res, err := d.Deploy(context.Background(), artifact, relayTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var steps []string
	for _, s := range res.Steps {
		steps = append(steps, s.Step)
	}
	if got := strings.Join(steps, ","); got != "upload,connect,send,install" {
		t.Errorf("steps = %s", got)
	}
	want := []string{
		"hdc tconn 192.168.137.188:34999",
		"hdc file send /tmp/entry-default-signed.hap /data/local/tmp/entry-default-signed.hap",
		"hdc shell bm install -p /data/local/tmp/entry-default-signed.hap",
	}
	if strings.Join(sess.commands, "\n") != strings.Join(want, "\n") {
		t.Errorf("commands = %q", sess.commands)
	}
	if dials != 1 || sess.closed != 1 {
		t.Errorf("dials=%d closed=%d, want one session closed once", dials, sess.closed)
	}
}

func TestDeploy_RelayRedeployOverwritesStaging(t *testing.T) {
	sess := &fakeSession{}
	dials := 0
	d := relayDeployer(sess, &dials)
	artifact := newArtifact(t)

	for i := 0; i < 2; i++ {
		if _, err := d.Deploy(context.Background(), artifact, relayTarget()); err != nil {
			t.Fatalf("deploy %d: %v", i+1, err)
		}
	}
	if len(sess.uploads) != 2 || sess.uploads[0] != sess.uploads[1] {
		t.Errorf("uploads = %q", sess.uploads)
	}
}

func TestDeploy_RelayStopsAtFailedStep(t *testing.T) {
	sess := &fakeSession{outputs: map[string]device.Output{
		"file send": {Stdout: "[Fail]Error opening file: read-only file system\n"},
	}}
	dials := 0
	d := relayDeployer(sess, &dials)

	res, err := d.Deploy(context.Background(), newArtifact(t), relayTarget())
	var ee *core.ExecutionError
	if !errors.As(err, &ee) || ee.Step != StepSend {
		t.Fatalf("error = %v, want failure at send", err)
	}
	if !strings.Contains(ee.Diagnostic, "read-only file system") {
		t.Errorf("Diagnostic = %q", ee.Diagnostic)
	}
	if _, ok := res.Step(StepInstall); ok {
		t.Error("install attempted after send failed")
	}
	if sess.closed != 1 {
		t.Errorf("session closed %d times, want 1", sess.closed)
	}
}

func TestDeploy_RelayInstallFails(t *testing.T) {
	sess := &fakeSession{outputs: map[string]device.Output{
		"bm install": {Stderr: "signature verification failed", ExitCode: 1},
	}}
	dials := 0
	d := relayDeployer(sess, &dials)

	_, err := d.Deploy(context.Background(), newArtifact(t), relayTarget())
	if err == nil || err.Error() != "install: device bridge command failed: signature verification failed" {
		t.Errorf("error = %v", err)
	}
}

func TestDeploy_StepTimeout(t *testing.T) {
	sess := &fakeSession{delays: map[string]time.Duration{"file send": time.Second}}
	dials := 0
	d := relayDeployer(sess, &dials)
	tgt := relayTarget()
	tgt.Timeouts.Send = 20 * time.Millisecond

	_, err := d.Deploy(context.Background(), newArtifact(t), tgt)
	if core.CategoryOf(err) != core.ErrCategoryTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	var ee *core.ExecutionError
	if !errors.As(err, &ee) || ee.Step != StepSend {
		t.Errorf("error = %v, want timeout at send", err)
	}
	if sess.closed != 1 {
		t.Error("session not closed after timeout")
	}
}

func TestDeploy_DialFails(t *testing.T) {
	d := &Deployer{Dial: func(ctx context.Context, cfg relay.Config) (Session, error) {
		return nil, core.ErrConnectionFailed.WithCause(errors.New("connection refused"))
	}}

	_, err := d.Deploy(context.Background(), newArtifact(t), relayTarget())
	if !errors.Is(err, core.ErrConnectionFailed) {
		t.Errorf("error = %v, want ErrConnectionFailed", err)
	}
}

func TestFetchLogs_TagFilterFallback(t *testing.T) {
	sess := &fakeSession{outputs: map[string]device.Output{
		"hilog -T ClawdBot": {Stdout: ""},
		"hilog -x": {Stdout: strings.Join([]string{
			"01 I Other: boot",
			"02 I ClawdBot: one",
			"03 I ClawdBot: two",
			"04 I ClawdBot: three",
		}, "\n")},
	}}
	d := &Deployer{Local: sess}

	text, err := d.FetchLogs(context.Background(), Target{Kind: config.TargetLocal, Bridge: device.Bridge{Path: "hdc"}},
		LogQuery{Tag: "ClawdBot", MaxLines: 2, MaxBytes: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "03 I ClawdBot: two\n04 I ClawdBot: three" {
		t.Errorf("FetchLogs() = %q", text)
	}
	if len(sess.commands) != 2 {
		t.Errorf("commands = %q, want filtered then full dump", sess.commands)
	}
}

func TestFetchLogs_RelayUsesSession(t *testing.T) {
	sess := &fakeSession{outputs: map[string]device.Output{
		"hilog -T ClawdBot": {Stdout: "I ClawdBot: ready\n"},
	}}
	dials := 0
	d := relayDeployer(sess, &dials)

	text, err := d.FetchLogs(context.Background(), relayTarget(), LogQuery{Tag: "ClawdBot"})
	if err != nil || !strings.Contains(text, "ready") {
		t.Errorf("FetchLogs() = %q, %v", text, err)
	}
	if dials != 1 || sess.closed != 1 {
		t.Errorf("dials=%d closed=%d", dials, sess.closed)
	}
}

func TestStreamLogs_FiltersLines(t *testing.T) {
	sess := &fakeSession{stream: "a ClawdBot: x\nb Other\nd clawdbot: lower\nc ClawdBot: partial"}
	d := &Deployer{Local: sess}

	var buf bytes.Buffer
	err := d.StreamLogs(context.Background(), Target{Kind: config.TargetLocal}, "ClawdBot", time.Second, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != "a ClawdBot: x\nd clawdbot: lower\nc ClawdBot: partial\n" {
		t.Errorf("stream = %q", buf.String())
	}
}

func TestExec_Passthrough(t *testing.T) {
	sess := &fakeSession{outputs: map[string]device.Output{"list targets": {Stdout: "FMR0223\n"}}}
	d := &Deployer{Local: sess}

	out, err := d.Exec(context.Background(), Target{Kind: config.TargetLocal, Bridge: device.Bridge{Path: "hdc"}}, []string{"list", "targets"})
	if err != nil || strings.TrimSpace(out.Stdout) != "FMR0223" {
		t.Errorf("Exec() = %+v, %v", out, err)
	}
}
