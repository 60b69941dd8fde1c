package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/input"
	"github.com/devicelab-dev/buildpilot/pkg/jsengine"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
	"github.com/devicelab-dev/buildpilot/pkg/window"
)

const defaultWindowTimeout = 5 * time.Second

// StepOutcome records what one step did.
type StepOutcome struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Execution is the result of running one action.
type Execution struct {
	Action    string        `json:"action"`
	Steps     []StepOutcome `json:"steps"`
	Confirmed bool          `json:"confirmed"`
}

// Uncertain reports that the input was sent but nothing confirmed its effect.
func (e *Execution) Uncertain() bool {
	return !e.Confirmed
}

// Runner executes catalog actions through an input controller.
type Runner struct {
	catalog *Catalog
	input   *input.Controller
	locator *window.Locator
	js      *jsengine.Engine
}

// NewRunner creates a Runner.
func NewRunner(c *Catalog, in *input.Controller, loc *window.Locator) *Runner {
	return &Runner{catalog: c, input: in, locator: loc, js: jsengine.New()}
}

// Execute resolves the action and runs its steps against h, the IDE window.
// An unmet expect-window leaves the execution unconfirmed; it is not an error.
func (r *Runner) Execute(ctx context.Context, spec ActionSpec, h *window.Handle) (*Execution, error) {
	steps, err := r.catalog.Resolve(spec)
	if err != nil {
		return nil, err
	}

	exec := &Execution{Action: spec.String()}
	for i, s := range steps {
		detail, confirmed, err := r.runStep(ctx, s, h)
		if err != nil {
			return exec, fmt.Errorf("%s step %d (%s): %w", spec, i+1, s.Type, err)
		}
		exec.Steps = append(exec.Steps, StepOutcome{Type: s.Type, Detail: detail})
		if confirmed {
			exec.Confirmed = true
		}
	}

	if exec.Uncertain() {
		logger.Debug("%s: input delivered without confirmation", spec)
	}
	return exec, nil
}

func (r *Runner) runStep(ctx context.Context, s Step, h *window.Handle) (string, bool, error) {
	switch s.Type {
	case StepKeys:
		n := s.Repeat
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			if err := r.input.SendKeys(ctx, s.Keys, s.Wait); err != nil {
				return "", false, err
			}
		}
		combo := strings.Join(s.Keys, "+")
		if n > 1 {
			return fmt.Sprintf("%s x%d", combo, n), false, nil
		}
		return combo, false, nil

	case StepClick:
		if err := r.input.Click(ctx, s.X, s.Y, s.Wait); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("click %d,%d", s.X, s.Y), false, nil

	case StepClickRelative:
		target := h
		if len(s.Window) > 0 {
			found, err := r.locator.WaitFor(ctx, s.Window, timeoutOr(s.Timeout))
			if err != nil {
				return "", false, err
			}
			target = found
		}
		if target == nil {
			return "", false, core.ErrWindowNotFound.WithMessage("click-relative needs a window")
		}
		dx, dy, err := r.offset(s.DX, s.DY, target)
		if err != nil {
			return "", false, err
		}
		if err := r.input.ClickRelative(ctx, target, dx, dy, s.Wait); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("click %q%+d%+d", target.Title, dx, dy), false, nil

	case StepSleep:
		if err := r.input.Sleep(ctx, s.Wait); err != nil {
			return "", false, err
		}
		return s.Wait.String(), false, nil

	case StepExpectWindow:
		found, err := r.locator.WaitFor(ctx, s.Window, timeoutOr(s.Timeout))
		if errors.Is(err, core.ErrWindowNotFound) {
			logger.Warn("expected window %q did not appear", s.Window)
			return fmt.Sprintf("no window %q", s.Window), false, nil
		}
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("window %q appeared", found.Title), true, nil
	}
	return "", false, fmt.Errorf("unknown step type %q", s.Type)
}

// offset evaluates dx/dy against the window geometry.
func (r *Runner) offset(dxExpr, dyExpr string, h *window.Handle) (int, int, error) {
	r.js.SetVariables(map[string]interface{}{
		"left":   h.Bounds.X,
		"top":    h.Bounds.Y,
		"width":  h.Bounds.Width,
		"height": h.Bounds.Height,
	})
	dx, err := r.js.EvalInt(dxExpr)
	if err != nil {
		return 0, 0, fmt.Errorf("dx: %w", err)
	}
	dy, err := r.js.EvalInt(dyExpr)
	if err != nil {
		return 0, 0, fmt.Errorf("dy: %w", err)
	}
	return dx, dy, nil
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultWindowTimeout
}
