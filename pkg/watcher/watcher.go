// Package watcher detects build completion by polling the artifact's
// modification time.
//
// A Completed outcome proves only that the file was rewritten after the
// baseline, not that the build was free of errors.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/logger"
)

// ArtifactRef is the artifact path with its pre-action baseline.
type ArtifactRef struct {
	Path     string
	Baseline time.Time // Zero when the artifact did not exist
	Epsilon  time.Duration
}

// Baseline records the artifact's current modification time. A missing file
// yields a zero baseline so its first appearance counts as a change.
func Baseline(path string, epsilon time.Duration) (ArtifactRef, error) {
	ref := ArtifactRef{Path: path, Epsilon: epsilon}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		ref.Baseline = info.ModTime()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return ref, fmt.Errorf("baseline %s: %w", path, err)
	}
	return ref, nil
}

// Changed reports whether mtime is newer than baseline by more than epsilon.
func (r ArtifactRef) Changed(mtime time.Time) bool {
	if mtime.IsZero() {
		return false
	}
	if r.Baseline.IsZero() {
		return true
	}
	return mtime.After(r.Baseline.Add(r.Epsilon))
}

// Outcome is the result of AwaitChange.
type Outcome struct {
	Completed bool
	ModTime   time.Time
	Polls     int
	Elapsed   time.Duration
}

// TimedOut reports that the timeout elapsed without a qualifying change.
func (o Outcome) TimedOut() bool {
	return !o.Completed
}

func (o Outcome) String() string {
	if o.Completed {
		return fmt.Sprintf("artifact rewritten at %s (%d polls, %v)", o.ModTime.Format(time.RFC3339), o.Polls, o.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("artifact not rewritten within %v (%d polls)", o.Elapsed.Round(time.Millisecond), o.Polls)
}

// AwaitChange polls every interval until the artifact changes or timeout
// elapses. The last poll happens at the deadline itself. A cancelled context
// returns its cause; a timeout is a normal outcome, not an error.
func AwaitChange(ctx context.Context, ref ArtifactRef, timeout, interval time.Duration) (Outcome, error) {
	if interval <= 0 {
		return Outcome{}, fmt.Errorf("poll interval must be positive")
	}
	start := time.Now()
	out := Outcome{}

	check := func() bool {
		out.Polls++
		info, err := os.Stat(ref.Path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Debug("stat %s: %v", ref.Path, err)
			}
			return false
		}
		if ref.Changed(info.ModTime()) {
			out.Completed = true
			out.ModTime = info.ModTime()
			return true
		}
		return false
	}

	if check() {
		out.Elapsed = time.Since(start)
		return out, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			out.Elapsed = time.Since(start)
			return out, context.Cause(ctx)
		case <-deadline.C:
			check()
			out.Elapsed = time.Since(start)
			return out, nil
		case <-ticker.C:
			if check() {
				out.Elapsed = time.Since(start)
				return out, nil
			}
		}
	}
}
