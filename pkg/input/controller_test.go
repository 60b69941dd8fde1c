package input

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/desktop"
	"github.com/devicelab-dev/buildpilot/pkg/desktop/mock"
	"github.com/devicelab-dev/buildpilot/pkg/window"
)

func newController(opts Options) (*Controller, *mock.Desktop) {
	d := mock.New(mock.Config{})
	if opts.Margin == 0 {
		opts.Margin = 2
	}
	return New(d, opts), d
}

func TestSendKeys_SettleDelay(t *testing.T) {
	c, d := newController(Options{SettleDelay: 30 * time.Millisecond})

	start := time.Now()
	if err := c.SendKeys(context.Background(), []string{"ctrl", "F9"}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, want >= settle delay", elapsed)
	}

	start = time.Now()
	if err := c.SendKeys(context.Background(), []string{"enter"}, -1); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed >= 30*time.Millisecond {
		t.Errorf("negative settle still waited %v", elapsed)
	}

	calls := d.InputCalls()
	if len(calls) != 2 || calls[0].Args[0] != "ctrl+F9" {
		t.Errorf("InputCalls() = %v", calls)
	}
}

func TestClickRelative(t *testing.T) {
	c, d := newController(Options{})
	h := &window.Handle{Bounds: desktop.Bounds{X: 400, Y: 300, Width: 800, Height: 600}}

	if err := c.ClickRelative(context.Background(), h, 330, 35, -1); err != nil {
		t.Fatal(err)
	}
	calls := d.InputCalls()
	if len(calls) != 1 || calls[0].String() != "Click 730 335" {
		t.Errorf("InputCalls() = %v", calls)
	}
}

func TestFailSafe_AbortsAndStaysTripped(t *testing.T) {
	c, d := newController(Options{})
	d.MovePointer(0, 1)

	err := c.SendKeys(context.Background(), []string{"ctrl", "F9"}, -1)
	if !errors.Is(err, core.ErrFailSafe) {
		t.Fatalf("error = %v, want ErrFailSafe", err)
	}
	if len(d.InputCalls()) != 0 {
		t.Error("input delivered after fail-safe")
	}

	d.MovePointer(900, 500)
	if err := c.Click(context.Background(), 10, 10, -1); !errors.Is(err, core.ErrFailSafe) {
		t.Errorf("error = %v, want ErrFailSafe after pointer moved away", err)
	}
}

func TestClickRelative_OutsideWindow(t *testing.T) {
	c, d := newController(Options{})
	h := &window.Handle{Title: "Project Structure", Bounds: desktop.Bounds{X: 400, Y: 300, Width: 800, Height: 600}}

	for _, off := range [][2]int{{800, 10}, {10, 600}, {-1, 10}} {
		err := c.ClickRelative(context.Background(), h, off[0], off[1], -1)
		if !errors.Is(err, core.ErrInvalidConfig) {
			t.Errorf("ClickRelative(%d, %d) error = %v, want ErrInvalidConfig", off[0], off[1], err)
		}
	}
	if len(d.InputCalls()) != 0 {
		t.Errorf("clicked outside the window: %v", d.InputCalls())
	}
}

func TestFailSafe_Off(t *testing.T) {
	c, d := newController(Options{Corner: CornerOff})
	d.MovePointer(0, 0)
	if err := c.SendKeys(context.Background(), []string{"a"}, -1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInCorner(t *testing.T) {
	tests := []struct {
		corner string
		x, y   int
		want   bool
	}{
		{CornerTopLeft, 0, 0, true},
		{CornerTopLeft, 2, 2, true},
		{CornerTopLeft, 3, 0, false},
		{CornerTopRight, 1919, 0, true},
		{CornerTopRight, 0, 0, false},
		{CornerBottomLeft, 0, 1079, true},
		{CornerBottomRight, 1918, 1078, true},
		{CornerBottomRight, 960, 1079, false},
		{CornerAny, 1919, 1079, true},
		{CornerAny, 960, 540, false},
		{CornerOff, 0, 0, false},
	}
	for _, tt := range tests {
		if got := InCorner(tt.corner, 2, tt.x, tt.y, 1920, 1080); got != tt.want {
			t.Errorf("InCorner(%s, %d, %d) = %v, want %v", tt.corner, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestGuard_CancelsOnFailSafe(t *testing.T) {
	c, d := newController(Options{})
	ctx, stop := c.Guard(context.Background(), 5*time.Millisecond)
	defer stop()

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.MovePointer(1, 1)
	}()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("guard did not cancel the context")
	}
	if cause := context.Cause(ctx); !errors.Is(cause, core.ErrFailSafe) {
		t.Errorf("cause = %v, want ErrFailSafe", cause)
	}
}

func TestSleep_InterruptedByGuard(t *testing.T) {
	c, d := newController(Options{})
	ctx, stop := c.Guard(context.Background(), 5*time.Millisecond)
	defer stop()

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.MovePointer(0, 0)
	}()

	start := time.Now()
	err := c.Sleep(ctx, 5*time.Second)
	if !errors.Is(err, core.ErrFailSafe) {
		t.Errorf("error = %v, want ErrFailSafe", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("sleep was not interrupted")
	}
}

func TestGuard_StopReleases(t *testing.T) {
	c, _ := newController(Options{})
	ctx, stop := c.Guard(context.Background(), time.Millisecond)
	stop()
	<-ctx.Done()
	if errors.Is(context.Cause(ctx), core.ErrFailSafe) {
		t.Error("stopped guard reported fail-safe")
	}
}
