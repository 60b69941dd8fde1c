// Package catalog maps logical IDE actions to ordered input steps.
//
// Recipes are configuration: coordinates and menu step counts are measured
// by hand and never discovered at runtime. A click has no feedback, so a
// recipe that drifts from the IDE layout fails silently. The only signal
// available is an expect-window step, which confirms that a dialog with the
// given title appeared.
package catalog

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/buildpilot/pkg/core"
)

// Action names.
const (
	ActionBuild         = "build"
	ActionRun           = "run"
	ActionClean         = "clean"
	ActionRebuild       = "rebuild"
	ActionSync          = "sync"
	ActionOpenSigning   = "open-signing"
	ActionConfirmDialog = "confirm-dialog"
	ActionSelectTab     = "select-tab"
	ActionSelfTest      = "self-test"
)

// Step kinds.
const (
	StepKeys          = "keys"
	StepClick         = "click"
	StepClickRelative = "click-relative"
	StepSleep         = "sleep"
	StepExpectWindow  = "expect-window"
)

// ActionSpec names a logical action. Arg is set only for select-tab:<name>.
type ActionSpec struct {
	Name string
	Arg  string
}

// ParseAction parses "build" or "select-tab:signing".
func ParseAction(s string) (ActionSpec, error) {
	s = strings.TrimSpace(s)
	name, arg, hasArg := strings.Cut(s, ":")
	if name == "" {
		return ActionSpec{}, core.ErrUnknownAction.WithMessage("empty action name")
	}
	if name == ActionSelectTab {
		if !hasArg || arg == "" {
			return ActionSpec{}, core.ErrUnknownAction.WithMessage("select-tab needs a tab name (select-tab:<name>)")
		}
		return ActionSpec{Name: name, Arg: arg}, nil
	}
	if hasArg {
		return ActionSpec{}, core.ErrUnknownAction.WithMessage(fmt.Sprintf("action %q takes no argument", name))
	}
	return ActionSpec{Name: name}, nil
}

func (a ActionSpec) String() string {
	if a.Arg != "" {
		return a.Name + ":" + a.Arg
	}
	return a.Name
}
