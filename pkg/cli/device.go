package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
	"github.com/devicelab-dev/buildpilot/pkg/device"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
	"github.com/devicelab-dev/buildpilot/pkg/watcher"
)

var waitCommand = &cli.Command{
	Name:  "wait",
	Usage: "Wait until the build artifact is rewritten",
	Description: `Records the artifact's current modification time and polls until it is
newer by more than artifact.epsilon, or the timeout elapses. Start this
before triggering a build by hand.`,
	Flags:  []cli.Flag{artifactFlag, timeoutFlag, pollIntervalFlag},
	Action: runWait,
}

var deployCommand = &cli.Command{
	Name:  "deploy",
	Usage: "Install the build artifact on the device",
	Description: `Installs artifact.path through the local device bridge, or uploads it to
the relay host and installs it from there (tconn, file send, bm install).

Examples:
  buildpilot deploy
  buildpilot deploy --target relay-host
  buildpilot deploy --serial FMR0223A01000123`,
	Flags:  []cli.Flag{artifactFlag, targetFlag, serialFlag},
	Action: runDeploy,
}

var logsCommand = &cli.Command{
	Name:  "logs",
	Usage: "Print recent device log lines for a tag",
	Flags: []cli.Flag{
		targetFlag, serialFlag, tagFlag,
		&cli.IntFlag{Name: "lines", Aliases: []string{"n"}, Usage: "Maximum lines (overrides logs.max_lines)"},
	},
	Action: runLogs,
}

var hilogCommand = &cli.Command{
	Name:  "hilog",
	Usage: "Follow the device log for a while",
	Flags: []cli.Flag{
		targetFlag, serialFlag, tagFlag,
		&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "How long to follow (overrides logs.stream)"},
	},
	Action: runHilog,
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "Run device-bridge arguments on the target",
	ArgsUsage: "<bridge args...>",
	Description: `Passes the arguments to the device bridge, locally or on the relay host.

Examples:
  buildpilot exec list targets
  buildpilot exec shell aa start -a EntryAbility -b com.example.app`,
	Flags:  []cli.Flag{targetFlag, serialFlag},
	Action: runExec,
}

var devicesCommand = &cli.Command{
	Name:   "devices",
	Usage:  "List devices visible to the device bridge",
	Flags:  []cli.Flag{targetFlag},
	Action: runDevices,
}

func runWait(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	a := e.cfg.Artifact
	if err := e.cfg.RequireArtifact(); err != nil {
		return err
	}

	ref, err := watcher.Baseline(a.Path, a.Epsilon)
	if err != nil {
		return err
	}
	if ref.Baseline.IsZero() {
		e.out.printf("waiting for %s to appear (timeout %s)\n", a.Path, a.Timeout)
	} else {
		e.out.printf("waiting for %s to change since %s (timeout %s)\n", a.Path, ref.Baseline.Format("15:04:05"), a.Timeout)
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	out, err := watcher.AwaitChange(ctx, ref, a.Timeout, a.PollInterval)
	if err != nil {
		return err
	}
	if out.TimedOut() {
		e.out.printf("%s %s\n", e.out.style(failStyle, "✗"), out)
		return failed()
	}
	e.out.printf("%s %s\n", e.out.style(okStyle, "✓"), out)
	return nil
}

func runDeploy(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if err := e.cfg.RequireArtifact(); err != nil {
		return err
	}
	t, err := e.target()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	e.out.header("Deploy to " + t.Describe())
	res, err := e.deployer.Deploy(ctx, e.cfg.Artifact.Path, t)
	e.out.deploySteps(res)
	if err != nil {
		var ee *core.ExecutionError
		if errors.As(err, &ee) && ee.Step != "" {
			e.out.printf("\n%s\n", e.out.style(failStyle, fmt.Sprintf("FAILED at %s: %s", ee.Step, err)))
			return failed()
		}
		return err
	}
	e.out.printf("\n%s\n", e.out.style(okStyle, "installed "+e.cfg.Artifact.Path))
	return nil
}

func runLogs(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	t, err := e.target()
	if err != nil {
		return err
	}

	q := deploy.LogQuery{Tag: e.cfg.Logs.Tag, MaxLines: e.cfg.Logs.MaxLines, MaxBytes: e.cfg.Logs.MaxBytes}
	if n := c.Int("lines"); n > 0 {
		q.MaxLines = n
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	text, err := e.deployer.FetchLogs(ctx, t, q)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		e.out.printf("no log lines for tag %q\n", q.Tag)
		return nil
	}
	e.out.printf("%s\n", text)
	return nil
}

func runHilog(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	t, err := e.target()
	if err != nil {
		return err
	}
	d := e.cfg.Logs.Stream
	if v := c.Duration("duration"); v > 0 {
		d = v
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	// Keep a copy of the streamed lines in the log file.
	w := io.MultiWriter(e.out.w, logger.GetWriter())
	return e.deployer.StreamLogs(ctx, t, e.cfg.Logs.Tag, d, w)
}

func runExec(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("bridge arguments required, e.g. 'buildpilot exec list targets'")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	t, err := e.target()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	out, err := e.deployer.Exec(ctx, t, c.Args().Slice())
	if err != nil {
		return err
	}
	if out.Stdout != "" {
		e.out.printf("%s", withNewline(out.Stdout))
	}
	if out.Stderr != "" {
		e.out.printf("%s", e.out.style(warnStyle, withNewline(out.Stderr)))
	}
	if out.ExitCode != 0 {
		return cli.Exit(fmt.Sprintf("exit status %d", out.ExitCode), out.ExitCode)
	}
	return nil
}

func runDevices(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	t, err := e.target()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	out, err := e.deployer.Exec(ctx, t, []string{"list", "targets"})
	if err != nil {
		return err
	}
	if err := t.Bridge.Check("list", out); err != nil {
		return err
	}
	targets := device.ParseTargets(out.Stdout)
	if len(targets) == 0 {
		e.out.printf("no devices on %s\n", t.Describe())
		return failed()
	}
	for _, id := range targets {
		e.out.printf("%s\n", id)
	}
	return nil
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
