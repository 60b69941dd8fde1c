package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/buildpilot/pkg/catalog"
	"github.com/devicelab-dev/buildpilot/pkg/executor"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Locate the IDE, trigger a build, wait for the artifact and deploy it",
	Description: `Runs the full pipeline: LocateWindow, Activate, TriggerBuild,
AwaitArtifact, Deploy. The first stage that does not finish ok aborts the run.

Examples:
  buildpilot run
  buildpilot run --action rebuild --timeout 10m
  buildpilot run --target relay-host`,
	Flags: []cli.Flag{
		artifactFlag,
		timeoutFlag,
		pollIntervalFlag,
		targetFlag,
		serialFlag,
		&cli.StringFlag{
			Name:  "action",
			Usage: "Catalog action that produces the artifact (overrides artifact.build_action)",
		},
		&cli.BoolFlag{
			Name:  "no-report",
			Usage: "Do not write the JSON run report",
		},
	},
	Action: runPipeline,
}

func runPipeline(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	cfg := e.cfg
	if err := cfg.RequireWindow(); err != nil {
		return err
	}
	if err := cfg.RequireArtifact(); err != nil {
		return err
	}

	actionName := cfg.Artifact.BuildAction
	if a := c.String("action"); a != "" {
		actionName = a
	}
	action, err := catalog.ParseAction(actionName)
	if err != nil {
		return err
	}
	if _, err := e.catalog.Resolve(action); err != nil {
		return err
	}
	target, err := e.target()
	if err != nil {
		return err
	}
	if err := e.withDesktop(); err != nil {
		return err
	}

	reportDir := cfg.ReportDir
	if c.Bool("no-report") {
		reportDir = ""
	}

	p := executor.New(executor.Config{
		Patterns:      cfg.Window.Titles,
		LocateTimeout: cfg.Window.LaunchTimeout,
		BuildAction:   action,
		Artifact:      cfg.Artifact.Path,
		Epsilon:       cfg.Artifact.Epsilon,
		WatchTimeout:  cfg.Artifact.Timeout,
		PollInterval:  cfg.Artifact.PollInterval,
		Target:        target,
		LockPath:      cfg.LockFile,
		GuardInterval: cfg.Input.GuardInterval,
		ReportDir:     reportDir,
		OnStageStart:  e.out.stageStart,
		OnStageEnd:    e.out.stageEnd,
	}, e.locator, e.input, e.actions, e.deployer)

	ctx, cancel := signalContext(c)
	defer cancel()

	e.out.header("Pipeline")
	res, runErr := p.Run(ctx)
	if len(res.Run.Stages) == 0 && runErr != nil {
		// Aborted before any stage, e.g. another run holds the lock.
		return runErr
	}
	if res.Deploy != nil && !res.Run.Success() {
		e.out.deploySteps(res.Deploy)
	}
	e.out.summary(res.Run)
	if res.Report != "" {
		e.out.printf("%s\n", e.out.style(dimStyle, "report: "+res.Report))
	}
	if !res.Run.Success() {
		return failed()
	}
	return nil
}
