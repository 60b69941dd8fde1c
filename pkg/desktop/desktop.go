// Package desktop provides access to top-level windows, keyboard and pointer
// of the user's graphical session.
package desktop

import (
	"context"
	"fmt"
)

// Bounds is a screen rectangle in pixels.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether the point lies inside the bounds.
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

func (b Bounds) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", b.Width, b.Height, b.X, b.Y)
}

// Window is one top-level window as reported by the window manager.
type Window struct {
	ID     string
	Title  string
	Bounds Bounds
}

// State is the activation state of a window.
type State struct {
	Active    bool
	Minimized bool
}

// Desktop is the OS surface the pipeline drives. Implementations must return
// windows in the window manager's enumeration order.
type Desktop interface {
	Windows(ctx context.Context) ([]Window, error)
	WindowState(ctx context.Context, id string) (State, error)
	// Activate restores the window if minimized and asks for focus.
	Activate(ctx context.Context, id string) error
	ActiveWindow(ctx context.Context) (string, error)

	// KeyCombo presses the tokens together and releases them in reverse order.
	KeyCombo(ctx context.Context, keys []string) error
	Click(ctx context.Context, x, y int) error
	PointerPosition(ctx context.Context) (int, int, error)
	ScreenSize(ctx context.Context) (int, int, error)
}
