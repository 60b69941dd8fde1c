// Package lock provides the run-level advisory lock that keeps two pipeline
// runs from driving the same desktop at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/devicelab-dev/buildpilot/pkg/core"
)

// Lock is a held run lock.
type Lock struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Acquire takes a non-blocking exclusive lock on path and records the
// current PID in it. If another process holds it, ErrRunLocked is returned
// with the holder's PID in the details when known.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		if errors.Is(err, unix.EWOULDBLOCK) {
			lerr := core.ErrRunLocked.WithDetails(map[string]interface{}{"path": path})
			if pid := Holder(path); pid > 0 {
				lerr = lerr.WithMessage(fmt.Sprintf("%s (pid %d)", core.ErrRunLocked.Message, pid)).
					WithDetails(map[string]interface{}{"pid": pid})
			}
			return nil, lerr
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0) //nolint:errcheck
	}
	return &Lock{path: path, f: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	f := l.f
	l.f = nil
	l.mu.Unlock()
	if f == nil {
		return nil
	}

	// Clear the PID so a stale file does not name a dead holder.
	f.Truncate(0) //nolint:errcheck
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

// Holder reads the PID recorded in the lock file, or 0.
func Holder(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
