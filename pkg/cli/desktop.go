package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/buildpilot/pkg/catalog"
	"github.com/devicelab-dev/buildpilot/pkg/window"
)

var locateCommand = &cli.Command{
	Name:  "locate",
	Usage: "Find the IDE window by title",
	Description: `Prints the first window whose title contains one of window.titles.
With window.launch_command set, the IDE is started when no window matches
and polled for up to window.launch_timeout.`,
	Action: runLocate,
}

var activateCommand = &cli.Command{
	Name:   "activate",
	Usage:  "Bring the IDE window to the foreground",
	Action: runActivate,
}

var actionCommand = &cli.Command{
	Name:      "action",
	Usage:     "Send a catalog action to the IDE",
	ArgsUsage: "<name>",
	Description: `Runs one action from the catalog against the IDE window, e.g.
build, run, clean, rebuild, sync, open-signing, confirm-dialog,
select-tab:signing, self-test. See 'buildpilot actions'.`,
	Action: runAction,
}

var actionsCommand = &cli.Command{
	Name:   "actions",
	Usage:  "List catalog actions and their steps",
	Action: runActions,
}

func runLocate(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if err := e.cfg.RequireWindow(); err != nil {
		return err
	}
	if err := e.withDesktop(); err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	h, err := e.locator.WaitFor(ctx, e.cfg.Window.Titles, e.cfg.Window.LaunchTimeout)
	if err != nil {
		return err
	}
	e.out.printf("%s\n", describeWindow(h))
	return nil
}

func runActivate(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if err := e.cfg.RequireWindow(); err != nil {
		return err
	}
	release, err := e.lockInput()
	if err != nil {
		return err
	}
	defer release()
	if err := e.withDesktop(); err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	h, err := e.locator.WaitFor(ctx, e.cfg.Window.Titles, e.cfg.Window.LaunchTimeout)
	if err != nil {
		return err
	}
	if err := e.input.CheckFailSafe(ctx); err != nil {
		return err
	}
	confirmed, err := e.locator.Activate(ctx, h)
	if err != nil {
		return err
	}
	if confirmed {
		e.out.printf("%s %s\n", e.out.style(okStyle, "✓"), describeWindow(h))
	} else {
		e.out.printf("%s %s (foreground not confirmed)\n", e.out.style(warnStyle, "⚠"), describeWindow(h))
	}
	return nil
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one action name is required")
	}
	spec, err := catalog.ParseAction(c.Args().First())
	if err != nil {
		return err
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	if _, err := e.catalog.Resolve(spec); err != nil {
		return err
	}
	if err := e.cfg.RequireWindow(); err != nil {
		return err
	}
	release, err := e.lockInput()
	if err != nil {
		return err
	}
	defer release()
	if err := e.withDesktop(); err != nil {
		return err
	}

	ctx, cancel := signalContext(c)
	defer cancel()
	ctx, stop := e.input.Guard(ctx, e.cfg.Input.GuardInterval)
	defer stop()

	h, err := e.locator.WaitFor(ctx, e.cfg.Window.Titles, e.cfg.Window.LaunchTimeout)
	if err != nil {
		return err
	}
	if err := e.input.CheckFailSafe(ctx); err != nil {
		return err
	}
	if _, err := e.locator.Activate(ctx, h); err != nil {
		return err
	}

	exec, err := e.actions.Execute(ctx, spec, h)
	if exec != nil {
		for _, s := range exec.Steps {
			e.out.printf("  %s %-14s %s\n", e.out.style(okStyle, "✓"), s.Type, s.Detail)
		}
	}
	if err != nil {
		return err
	}
	if exec.Confirmed {
		e.out.printf("%s confirmed\n", spec)
	} else {
		e.out.printf("%s %s sent, delivery unconfirmed\n", e.out.style(warnStyle, "⚠"), spec)
	}
	return nil
}

func runActions(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	for _, name := range e.catalog.Names() {
		spec, err := catalog.ParseAction(name)
		if err != nil {
			continue
		}
		steps, err := e.catalog.Resolve(spec)
		if err != nil {
			continue
		}
		parts := make([]string, 0, len(steps))
		for _, s := range steps {
			parts = append(parts, describeStep(s))
		}
		e.out.printf("%-22s %s\n", name, e.out.style(dimStyle, strings.Join(parts, ", ")))
	}
	return nil
}

func describeWindow(h *window.Handle) string {
	s := fmt.Sprintf("%s %q %s", h.ID, h.Title, h.Bounds)
	if h.Minimized {
		s += " [minimized]"
	}
	if h.Active {
		s += " [active]"
	}
	return s
}

func describeStep(s catalog.Step) string {
	switch s.Type {
	case catalog.StepKeys:
		combo := strings.Join(s.Keys, "+")
		if s.Repeat > 1 {
			return fmt.Sprintf("%s x%d", combo, s.Repeat)
		}
		return combo
	case catalog.StepClick:
		return fmt.Sprintf("click %d,%d", s.X, s.Y)
	case catalog.StepClickRelative:
		if len(s.Window) > 0 {
			return fmt.Sprintf("click %s+(%s, %s)", strings.Join(s.Window, "|"), s.DX, s.DY)
		}
		return fmt.Sprintf("click +(%s, %s)", s.DX, s.DY)
	case catalog.StepSleep:
		return "sleep " + s.Wait.String()
	case catalog.StepExpectWindow:
		return "expect " + strings.Join(s.Window, "|")
	}
	return s.Type
}
