// Package mock provides an in-memory desktop for testing without a display.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/devicelab-dev/buildpilot/pkg/desktop"
)

// Call is one recorded Desktop method invocation.
type Call struct {
	Method string
	Args   []string
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Method
	}
	return c.Method + " " + strings.Join(c.Args, " ")
}

// Config configures mock desktop behavior.
type Config struct {
	Windows      []desktop.Window
	Minimized    []string // Window ids that start minimized
	ScreenWidth  int
	ScreenHeight int
	PointerX     int
	PointerY     int

	// IgnoreActivate makes Activate succeed without changing focus,
	// like a window manager with focus-stealing prevention.
	IgnoreActivate bool
	// ActivateIgnoredTimes ignores only the first N activation requests.
	ActivateIgnoredTimes int
	// WindowsErr is returned by Windows.
	WindowsErr error
}

// Desktop is a mock implementation of desktop.Desktop.
type Desktop struct {
	mu        sync.Mutex
	windows   []desktop.Window
	minimized map[string]bool
	active    string
	pointerX  int
	pointerY  int
	cfg       Config
	ignored   int
	calls     []Call

	// OnInput runs after every KeyCombo and Click, without the lock held.
	OnInput func(c Call)
}

// New creates a mock desktop.
func New(cfg Config) *Desktop {
	if cfg.ScreenWidth == 0 {
		cfg.ScreenWidth = 1920
	}
	if cfg.ScreenHeight == 0 {
		cfg.ScreenHeight = 1080
	}
	if cfg.PointerX == 0 && cfg.PointerY == 0 {
		cfg.PointerX, cfg.PointerY = cfg.ScreenWidth/2, cfg.ScreenHeight/2
	}
	d := &Desktop{
		windows:   append([]desktop.Window(nil), cfg.Windows...),
		minimized: make(map[string]bool),
		pointerX:  cfg.PointerX,
		pointerY:  cfg.PointerY,
		cfg:       cfg,
	}
	for _, id := range cfg.Minimized {
		d.minimized[id] = true
	}
	return d
}

func (d *Desktop) record(method string, args ...string) {
	d.calls = append(d.calls, Call{Method: method, Args: args})
}

// AddWindow appends a window to the enumeration, e.g. a dialog opened by input.
func (d *Desktop) AddWindow(w desktop.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = append(d.windows, w)
}

// RemoveWindow drops a window by id.
func (d *Desktop) RemoveWindow(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range d.windows {
		if w.ID == id {
			d.windows = append(d.windows[:i], d.windows[i+1:]...)
			return
		}
	}
}

// MovePointer sets the pointer position, e.g. to simulate the operator
// slamming it into a corner.
func (d *Desktop) MovePointer(x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointerX, d.pointerY = x, y
}

// Calls returns a copy of all recorded calls.
func (d *Desktop) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// InputCalls returns only KeyCombo and Click calls.
func (d *Desktop) InputCalls() []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Method == "KeyCombo" || c.Method == "Click" {
			out = append(out, c)
		}
	}
	return out
}

// Windows returns the scripted windows in insertion order.
func (d *Desktop) Windows(ctx context.Context) ([]desktop.Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Windows")
	if d.cfg.WindowsErr != nil {
		return nil, d.cfg.WindowsErr
	}
	return append([]desktop.Window(nil), d.windows...), nil
}

// WindowState reports minimized and active flags.
func (d *Desktop) WindowState(ctx context.Context, id string) (desktop.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("WindowState", id)
	if !d.hasWindow(id) {
		return desktop.State{}, fmt.Errorf("no window %s", id)
	}
	return desktop.State{Active: d.active == id, Minimized: d.minimized[id]}, nil
}

// Activate restores and focuses the window unless configured to ignore it.
func (d *Desktop) Activate(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Activate", id)
	if !d.hasWindow(id) {
		return fmt.Errorf("no window %s", id)
	}
	if d.cfg.IgnoreActivate || d.ignored < d.cfg.ActivateIgnoredTimes {
		d.ignored++
		return nil
	}
	d.minimized[id] = false
	d.active = id
	return nil
}

// ActiveWindow returns the focused window id.
func (d *Desktop) ActiveWindow(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ActiveWindow")
	return d.active, nil
}

// KeyCombo records the chord.
func (d *Desktop) KeyCombo(ctx context.Context, keys []string) error {
	d.mu.Lock()
	c := Call{Method: "KeyCombo", Args: []string{strings.Join(keys, "+")}}
	d.calls = append(d.calls, c)
	hook := d.OnInput
	d.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return nil
}

// Click records the click and moves the pointer there.
func (d *Desktop) Click(ctx context.Context, x, y int) error {
	d.mu.Lock()
	c := Call{Method: "Click", Args: []string{strconv.Itoa(x), strconv.Itoa(y)}}
	d.calls = append(d.calls, c)
	d.pointerX, d.pointerY = x, y
	hook := d.OnInput
	d.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return nil
}

// PointerPosition returns the current pointer position.
func (d *Desktop) PointerPosition(ctx context.Context) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointerX, d.pointerY, nil
}

// ScreenSize returns the configured screen size.
func (d *Desktop) ScreenSize(ctx context.Context) (int, int, error) {
	return d.cfg.ScreenWidth, d.cfg.ScreenHeight, nil
}

func (d *Desktop) hasWindow(id string) bool {
	for _, w := range d.windows {
		if w.ID == id {
			return true
		}
	}
	return false
}

var _ desktop.Desktop = (*Desktop)(nil)
