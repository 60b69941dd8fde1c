package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/devicelab-dev/buildpilot/pkg/catalog"
	"github.com/devicelab-dev/buildpilot/pkg/config"
	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/deploy"
	"github.com/devicelab-dev/buildpilot/pkg/desktop"
	"github.com/devicelab-dev/buildpilot/pkg/input"
	"github.com/devicelab-dev/buildpilot/pkg/lock"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
	"github.com/devicelab-dev/buildpilot/pkg/window"
)

// Overridable for tests.
var (
	newDesktop = func() (desktop.Desktop, error) {
		if err := desktop.CheckTools(); err != nil {
			return nil, err
		}
		return desktop.NewX(), nil
	}
	newDeployer = deploy.New
	stdout      io.Writer = os.Stdout
	stdin                 = os.Stdin
)

// Flags shared by commands that take config overrides.
var (
	artifactFlag = &cli.StringFlag{
		Name:    "artifact",
		Aliases: []string{"a"},
		Usage:   "Build artifact to watch and deploy (overrides artifact.path)",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Artifact wait timeout (overrides artifact.timeout)",
	}
	pollIntervalFlag = &cli.DurationFlag{
		Name:  "poll-interval",
		Usage: "Artifact poll interval (overrides artifact.poll_interval)",
	}
	targetFlag = &cli.StringFlag{
		Name:  "target",
		Usage: "Deploy target: local-device or relay-host (overrides deploy.target)",
	}
	serialFlag = &cli.StringFlag{
		Name:    "serial",
		Aliases: []string{"s"},
		Usage:   "Device serial for the local bridge (overrides deploy.serial)",
	}
	tagFlag = &cli.StringFlag{
		Name:  "tag",
		Usage: "Device log tag (overrides logs.tag)",
	}
)

// env is the per-invocation wiring of config, output and backends.
type env struct {
	cfg *config.Config
	out *printer

	desk     desktop.Desktop
	locator  *window.Locator
	input    *input.Controller
	catalog  *catalog.Catalog
	actions  *catalog.Runner
	deployer *deploy.Deployer
}

// setup loads config, applies flag overrides and starts logging.
func setup(c *cli.Context) (*env, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		var wd string
		wd, err = os.Getwd()
		if err == nil {
			cfg, err = config.LoadFromDir(wd)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Apply(overridesFrom(c)); err != nil {
		return nil, err
	}

	logPath := cfg.Log.File
	if p := c.String("log-file"); p != "" {
		logPath = p
	}
	level := cfg.Log.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	if err := logger.Init(logger.Options{Path: logPath, Level: level, Verbose: c.Bool("verbose")}); err != nil {
		return nil, err
	}
	logger.Debug("buildpilot %s, config version %d", Version, cfg.Version)

	return &env{
		cfg:      cfg,
		out:      newPrinter(stdout, c.Bool("no-ansi")),
		catalog:  catalog.New(cfg),
		deployer: newDeployer(),
	}, nil
}

func overridesFrom(c *cli.Context) config.Overrides {
	return config.Overrides{
		Artifact:     c.String("artifact"),
		Timeout:      c.Duration("timeout"),
		PollInterval: c.Duration("poll-interval"),
		Target:       c.String("target"),
		Serial:       c.String("serial"),
		Tag:          c.String("tag"),
	}
}

// withDesktop connects the desktop backend and builds the input stack.
func (e *env) withDesktop() error {
	if e.desk != nil {
		return nil
	}
	d, err := newDesktop()
	if err != nil {
		return err
	}
	e.desk = d
	e.locator = window.NewLocator(d, window.Options{
		PollInterval:  e.cfg.Window.PollInterval,
		RetryDelay:    e.cfg.Window.RetryDelay,
		LaunchCommand: e.cfg.Window.LaunchCommand,
	})
	e.input = input.New(d, input.Options{
		SettleDelay: e.cfg.Input.SettleDelay,
		Corner:      e.cfg.Input.FailSafeCorner,
		Margin:      e.cfg.Input.FailSafeMargin,
	})
	e.actions = catalog.NewRunner(e.catalog, e.input, e.locator)
	return nil
}

// lockInput takes the run lock for commands that send input or change
// focus, so they cannot interleave with a pipeline run.
func (e *env) lockInput() (release func(), err error) {
	if e.cfg.LockFile == "" {
		return func() {}, nil
	}
	l, err := lock.Acquire(e.cfg.LockFile)
	if err != nil {
		return nil, err
	}
	return func() {
		l.Release() //nolint:errcheck
	}, nil
}

// target validates and returns the deploy target, prompting for the relay
// password when configured to.
func (e *env) target() (deploy.Target, error) {
	if err := e.cfg.RequireTarget(); err != nil {
		return deploy.Target{}, err
	}
	r := &e.cfg.Deploy.Relay
	if e.cfg.Deploy.Target == config.TargetRelay && r.PasswordPrompt && r.Password == "" {
		pw, err := promptPassword(fmt.Sprintf("%s@%s password: ", r.User, r.Host))
		if err != nil {
			return deploy.Target{}, err
		}
		r.Password = pw
	}
	return deploy.TargetFromConfig(e.cfg), nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", core.ErrInvalidConfig.WithMessage("no terminal available for the relay password prompt (set BUILDPILOT_RELAY_PASSWORD or deploy.relay.key_file)")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// failed reports a failed command through the exit code only; the message
// has already been printed.
func failed() error {
	return cli.Exit("", 1)
}
