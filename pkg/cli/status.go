package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/report"
)

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "Show the most recent run report",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "report", Usage: "Report file to show instead of latest.json"},
	},
	Action: runStatus,
}

func runStatus(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	var r *report.Report
	if path := c.String("report"); path != "" {
		r, err = report.Read(path)
	} else {
		r, err = report.ReadLatest(e.cfg.ReportDir)
	}
	if err != nil {
		return fmt.Errorf("no run report: %w", err)
	}

	e.out.printf("run %s started %s\n", r.ID, r.StartTime.Format("2006-01-02 15:04:05"))
	if r.Status == core.StatusRunning {
		e.out.printf("  %s %s\n", e.out.style(activeStyle, "▸"), r.CurrentStage)
	}
	for _, s := range r.Stages {
		e.out.stageEnd(s)
	}
	if r.Summary != "" {
		if r.Status == core.StatusOK {
			e.out.printf("\n%s\n", e.out.style(okStyle, r.Summary))
		} else {
			e.out.printf("\n%s\n", e.out.style(failStyle, r.Summary))
		}
	}
	return nil
}
