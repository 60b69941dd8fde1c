package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/config"
	"github.com/devicelab-dev/buildpilot/pkg/core"
)

// Step is one primitive of a recipe.
type Step = config.StepSpec

// ProjectStructure is the title of the IDE's project settings dialog.
const ProjectStructure = "Project Structure"

const menuDelay = 150 * time.Millisecond

func keys(wait time.Duration, k ...string) Step {
	return Step{Type: StepKeys, Keys: k, Wait: wait}
}

func menu(open []string, downs int) []Step {
	return []Step{
		{Type: StepKeys, Keys: open, Wait: 500 * time.Millisecond},
		{Type: StepKeys, Keys: []string{"down"}, Repeat: downs, Wait: menuDelay},
		{Type: StepKeys, Keys: []string{"enter"}, Wait: time.Second},
	}
}

func builtinRecipes() map[string][]Step {
	openSigning := []Step{keys(2*time.Second, "ctrl", "alt", "shift", "s")}

	return map[string][]Step{
		ActionBuild:       {keys(time.Second, "ctrl", "F9")},
		ActionRun:         {keys(time.Second, "shift", "F10")},
		ActionClean:       menu([]string{"alt", "b"}, 8),
		ActionRebuild:     menu([]string{"alt", "b"}, 7),
		ActionSync:        menu([]string{"alt", "f"}, 10),
		ActionOpenSigning: openSigning,
		ActionConfirmDialog: {
			{Type: StepClickRelative, DX: "width - 70", DY: "height - 30", Window: []string{ProjectStructure}, Wait: time.Second},
		},
		ActionSelfTest: append(append([]Step(nil), openSigning...),
			Step{Type: StepExpectWindow, Window: []string{ProjectStructure}, Timeout: 5 * time.Second},
			keys(500*time.Millisecond, "escape"),
		),
	}
}

func builtinTabs() map[string]config.Offset {
	return map[string]config.Offset{
		"signing": {DX: "330", DY: "35", Window: []string{ProjectStructure}},
	}
}

// Catalog holds the recipes for one invocation. It is immutable after New.
type Catalog struct {
	recipes map[string][]Step
	tabs    map[string]config.Offset
}

// New builds the catalog from built-in recipes overlaid with cfg.Actions and
// cfg.Tabs. cfg may be nil.
func New(cfg *config.Config) *Catalog {
	c := &Catalog{recipes: builtinRecipes(), tabs: builtinTabs()}
	if cfg == nil {
		return c
	}
	for name, steps := range cfg.Actions {
		c.recipes[name] = copySteps(steps)
	}
	for name, off := range cfg.Tabs {
		c.tabs[name] = off
	}
	return c
}

// Names returns all resolvable action names, select-tab entries included.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.recipes)+len(c.tabs))
	for name := range c.recipes {
		names = append(names, name)
	}
	for tab := range c.tabs {
		names = append(names, ActionSelectTab+":"+tab)
	}
	sort.Strings(names)
	return names
}

// Resolve returns a copy of the steps for the action.
func (c *Catalog) Resolve(spec ActionSpec) ([]Step, error) {
	if spec.Name == ActionSelectTab {
		off, ok := c.tabs[spec.Arg]
		if !ok {
			return nil, core.ErrUnknownAction.WithMessage(fmt.Sprintf("no offset configured for tab %q", spec.Arg))
		}
		return []Step{{
			Type:   StepClickRelative,
			DX:     off.DX,
			DY:     off.DY,
			Window: append([]string(nil), off.Window...),
			Wait:   time.Second,
		}}, nil
	}

	steps, ok := c.recipes[spec.Name]
	if !ok {
		return nil, core.ErrUnknownAction.WithMessage(fmt.Sprintf("unknown action %q", spec.Name))
	}
	return copySteps(steps), nil
}

func copySteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Keys = append([]string(nil), s.Keys...)
		s.Window = append([]string(nil), s.Window...)
		out[i] = s
	}
	return out
}
