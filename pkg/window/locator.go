// Package window finds the IDE's top-level window by title and brings it to
// the foreground.
package window

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/desktop"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
)

// Handle identifies a located window. It goes stale when the window closes;
// callers re-locate rather than refresh it.
type Handle struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Bounds    desktop.Bounds `json:"bounds"`
	Minimized bool           `json:"minimized"`
	Active    bool           `json:"active"`
}

// Options configures a Locator.
type Options struct {
	PollInterval  time.Duration // Between scans in WaitFor
	RetryDelay    time.Duration // Before the second foreground request
	LaunchCommand []string      // Started once when the first WaitFor scan misses
}

// Locator queries the desktop for windows.
type Locator struct {
	desk desktop.Desktop
	opts Options

	// Launch starts the launch command without waiting for it.
	Launch func(argv []string) error
}

// NewLocator creates a Locator.
func NewLocator(d desktop.Desktop, opts Options) *Locator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 300 * time.Millisecond
	}
	return &Locator{desk: d, opts: opts, Launch: startDetached}
}

// Locate performs exactly one enumeration and returns the first window, in
// enumeration order, whose title contains any of the patterns.
func (l *Locator) Locate(ctx context.Context, patterns []string) (*Handle, error) {
	windows, err := l.desk.Windows(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate windows: %w", err)
	}

	for _, w := range windows {
		for _, p := range patterns {
			if p == "" || !strings.Contains(w.Title, p) {
				continue
			}
			h := &Handle{ID: w.ID, Title: w.Title, Bounds: w.Bounds}
			if st, err := l.desk.WindowState(ctx, w.ID); err == nil {
				h.Minimized = st.Minimized
				h.Active = st.Active
			} else {
				logger.Debug("window state %s: %v", w.ID, err)
			}
			return h, nil
		}
	}
	return nil, core.ErrWindowNotFound.WithMessage(fmt.Sprintf("no window title contains any of %q", patterns))
}

// WaitFor re-scans until a window matches or timeout elapses. A zero timeout
// means a single scan. The launch command, if any, runs once after the first miss.
func (l *Locator) WaitFor(ctx context.Context, patterns []string, timeout time.Duration) (*Handle, error) {
	h, err := l.Locate(ctx, patterns)
	if err == nil || timeout <= 0 || !errors.Is(err, core.ErrWindowNotFound) {
		return h, err
	}

	if len(l.opts.LaunchCommand) > 0 {
		logger.Info("no window matches %q, launching %s", patterns, strings.Join(l.opts.LaunchCommand, " "))
		if lerr := l.Launch(l.opts.LaunchCommand); lerr != nil {
			logger.Warn("launch failed: %v", lerr)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	scans := 1
	for {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-deadline.C:
			return nil, core.ErrWindowNotFound.WithMessage(
				fmt.Sprintf("no window title contains any of %q after %v (%d scans)", patterns, timeout, scans))
		case <-ticker.C:
			scans++
			h, err := l.Locate(ctx, patterns)
			if err == nil {
				logger.Debug("window %q found after %d scans", h.Title, scans)
				return h, nil
			}
			if !errors.Is(err, core.ErrWindowNotFound) {
				return nil, err
			}
		}
	}
}

// Activate restores and foregrounds the window. The request is retried once
// after RetryDelay; if focus is still elsewhere it returns false without error.
// Only context cancellation is reported as an error.
func (l *Locator) Activate(ctx context.Context, h *Handle) (bool, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt == 2 {
			select {
			case <-ctx.Done():
				return false, context.Cause(ctx)
			case <-time.After(l.opts.RetryDelay):
			}
		}

		if err := l.desk.Activate(ctx, h.ID); err != nil {
			if ctx.Err() != nil {
				return false, context.Cause(ctx)
			}
			logger.Debug("activate %s attempt %d: %v", h.ID, attempt, err)
			continue
		}

		active, err := l.desk.ActiveWindow(ctx)
		if err == nil && active == h.ID {
			h.Active = true
			h.Minimized = false
			return true, nil
		}
	}

	logger.Warn("window %q did not take focus; continuing without confirmation", h.Title)
	return false, nil
}

func startDetached(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...) //#nosec G204 -- user-configured launch command
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
