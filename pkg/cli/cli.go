// Package cli provides the command-line interface for buildpilot.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/buildpilot/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (default: ./buildpilot.yaml, then <home>/config.yaml)",
		EnvVars: []string{"BUILDPILOT_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging to stderr",
		EnvVars: []string{"BUILDPILOT_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Log file path (default: <home>/logs/buildpilot.log)",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "buildpilot",
		Usage:   "Drive an IDE build and ship the package to a device",
		Version: Version,
		Description: `buildpilot focuses the IDE window, triggers a build with simulated input,
waits for the build artifact to be rewritten and installs it on a device,
either through the local device bridge or through an SSH relay host.

Move the pointer into the fail-safe corner (top-left by default) to abort.

Examples:
  buildpilot run
  buildpilot run --artifact entry/build/default/outputs/default/entry-default-signed.hap
  buildpilot action clean
  buildpilot deploy --target relay-host
  buildpilot logs --tag ClawdBot`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			runCommand,
			locateCommand,
			activateCommand,
			actionCommand,
			actionsCommand,
			waitCommand,
			deployCommand,
			logsCommand,
			hilogCommand,
			execCommand,
			devicesCommand,
			statusCommand,
		},
		After: func(c *cli.Context) error {
			logger.Close()
			return nil
		},
		// Exit codes are applied by Execute so tests can run the app in-process.
		ExitErrHandler: func(c *cli.Context, err error) {},
	}
}

// Execute runs the CLI.
func Execute() {
	err := NewApp().Run(os.Args)
	if err == nil {
		return
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitErr.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
