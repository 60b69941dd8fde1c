package config

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	envHome          = "BUILDPILOT_HOME"
	envRelayPassword = "BUILDPILOT_RELAY_PASSWORD"
)

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the buildpilot home directory.
//
// Resolution order:
//  1. $BUILDPILOT_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. ~/.buildpilot when the binary is installed elsewhere
//  4. Current working directory
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogDir returns <home>/logs.
func GetLogDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetRunsDir returns <home>/runs, where run reports are written.
func GetRunsDir() string {
	return filepath.Join(GetHome(), "runs")
}

func resolveHome() string {
	// 1. Environment variable
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// 2. Binary-relative: if binary is at <home>/bin/buildpilot, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" && !systemBinDir(binDir) {
			return filepath.Dir(binDir)
		}
	}

	if u, err := os.UserHomeDir(); err == nil && u != "" {
		return filepath.Join(u, ".buildpilot")
	}

	// Last resort, e.g. no $HOME in a minimal container
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// systemBinDir reports shared bin directories whose parent is not ours.
func systemBinDir(dir string) bool {
	switch dir {
	case "/bin", "/usr/bin", "/usr/local/bin":
		return true
	}
	return false
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
