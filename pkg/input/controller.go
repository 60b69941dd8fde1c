// Package input delivers keyboard chords and mouse clicks to the desktop.
//
// Input is fire-and-forget: the target application gives no acknowledgment,
// so every primitive is followed by a settle delay. The only way to stop a
// sequence is the fail-safe corner: moving the pointer there aborts all
// pending input.
package input

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/desktop"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
	"github.com/devicelab-dev/buildpilot/pkg/window"
)

// Fail-safe corners.
const (
	CornerTopLeft     = "top-left"
	CornerTopRight    = "top-right"
	CornerBottomLeft  = "bottom-left"
	CornerBottomRight = "bottom-right"
	CornerAny         = "any"
	CornerOff         = "off"
)

// Options configures a Controller.
type Options struct {
	SettleDelay time.Duration
	Corner      string
	Margin      int // Pixels from the corner that count as inside it
}

// Controller owns the input stream for one pipeline run. Calls are serialized.
type Controller struct {
	desk desktop.Desktop
	opts Options

	mu      sync.Mutex
	tripped atomic.Bool

	screenMu sync.Mutex
	screenW  int
	screenH  int
}

// New creates a Controller.
func New(d desktop.Desktop, opts Options) *Controller {
	if opts.Corner == "" {
		opts.Corner = CornerTopLeft
	}
	return &Controller{desk: d, opts: opts}
}

// SendKeys presses one chord, then waits settle. A zero settle uses the
// configured default; a negative one skips the wait.
func (c *Controller) SendKeys(ctx context.Context, combo []string, settle time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(ctx); err != nil {
		return err
	}
	logger.Debug("keys %v", combo)
	if err := c.desk.KeyCombo(ctx, combo); err != nil {
		return fmt.Errorf("send keys %v: %w", combo, err)
	}
	return c.settle(ctx, settle)
}

// Click clicks at absolute screen coordinates, then waits settle.
func (c *Controller) Click(ctx context.Context, x, y int, settle time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(ctx); err != nil {
		return err
	}
	logger.Debug("click %d,%d", x, y)
	if err := c.desk.Click(ctx, x, y); err != nil {
		return fmt.Errorf("click %d,%d: %w", x, y, err)
	}
	return c.settle(ctx, settle)
}

// ClickRelative clicks at an offset from the window's top-left corner. An
// offset that lands outside a window of known size is a calibration error
// and nothing is clicked.
func (c *Controller) ClickRelative(ctx context.Context, h *window.Handle, dx, dy int, settle time.Duration) error {
	x, y := h.Bounds.X+dx, h.Bounds.Y+dy
	if h.Bounds.Width > 0 && h.Bounds.Height > 0 && !h.Bounds.Contains(x, y) {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("offset %+d%+d lies outside window %q (%s)", dx, dy, h.Title, h.Bounds))
	}
	return c.Click(ctx, x, y, settle)
}

// Sleep waits d, honoring cancellation and the fail-safe.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.CheckFailSafe(ctx); err != nil {
		return err
	}
	return sleep(ctx, d)
}

// CheckFailSafe returns ErrFailSafe when the pointer sits in the abort corner.
func (c *Controller) CheckFailSafe(ctx context.Context) error {
	if c.tripped.Load() {
		return core.ErrFailSafe
	}
	if c.opts.Corner == CornerOff {
		return nil
	}

	x, y, err := c.desk.PointerPosition(ctx)
	if err != nil {
		return fmt.Errorf("fail-safe pointer check: %w", err)
	}
	w, h, err := c.screen(ctx)
	if err != nil {
		return fmt.Errorf("fail-safe screen size: %w", err)
	}
	if InCorner(c.opts.Corner, c.opts.Margin, x, y, w, h) {
		c.tripped.Store(true)
		logger.Warn("fail-safe triggered: pointer at %d,%d", x, y)
		return core.ErrFailSafe
	}
	return nil
}

// Guard returns a context that is cancelled with cause ErrFailSafe as soon as
// the pointer reaches the abort corner. Call the returned func to stop watching.
func (c *Controller) Guard(ctx context.Context, interval time.Duration) (context.Context, context.CancelFunc) {
	gctx, cancel := context.WithCancelCause(ctx)
	if c.opts.Corner == CornerOff {
		return gctx, func() { cancel(context.Canceled) }
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return
			case <-ticker.C:
				if err := c.CheckFailSafe(gctx); errors.Is(err, core.ErrFailSafe) {
					cancel(core.ErrFailSafe)
					return
				}
			}
		}
	}()
	return gctx, func() { cancel(context.Canceled) }
}

func (c *Controller) ready(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return c.CheckFailSafe(ctx)
}

func (c *Controller) settle(ctx context.Context, d time.Duration) error {
	if d == 0 {
		d = c.opts.SettleDelay
	}
	return sleep(ctx, d)
}

func (c *Controller) screen(ctx context.Context) (int, int, error) {
	c.screenMu.Lock()
	defer c.screenMu.Unlock()

	if c.screenW > 0 {
		return c.screenW, c.screenH, nil
	}
	w, h, err := c.desk.ScreenSize(ctx)
	if err != nil {
		return 0, 0, err
	}
	c.screenW, c.screenH = w, h
	return w, h, nil
}

// InCorner reports whether (x, y) lies within margin pixels of the named
// corner of a w×h screen.
func InCorner(corner string, margin, x, y, w, h int) bool {
	left := x <= margin
	top := y <= margin
	right := x >= w-1-margin
	bottom := y >= h-1-margin

	switch corner {
	case CornerTopLeft:
		return top && left
	case CornerTopRight:
		return top && right
	case CornerBottomLeft:
		return bottom && left
	case CornerBottomRight:
		return bottom && right
	case CornerAny:
		return (top || bottom) && (left || right)
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
