package device

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/devicelab-dev/buildpilot/pkg/core"
)

// Bridge builds device-bridge command lines.
type Bridge struct {
	Path           string   // Executable, e.g. "hdc"
	Serial         string   // Target device; empty for the only connected one
	FailureMarkers []string // Output fragments that mean failure despite exit 0
}

// argv prefixes args with the executable and target selector.
func (b Bridge) argv(args ...string) []string {
	path := b.Path
	if path == "" {
		path = "hdc"
	}
	out := make([]string, 0, len(args)+3)
	out = append(out, path)
	if b.Serial != "" {
		out = append(out, "-t", b.Serial)
	}
	return append(out, args...)
}

// Command prefixes arbitrary bridge arguments, e.g. ["list", "targets"].
func (b Bridge) Command(args ...string) []string {
	return b.argv(args...)
}

// InstallArgs installs a package, replacing an existing one.
func (b Bridge) InstallArgs(pkgPath string) []string {
	return b.argv("install", "-r", pkgPath)
}

// ShellArgs runs a command in the device shell.
func (b Bridge) ShellArgs(command ...string) []string {
	return b.argv(append([]string{"shell"}, command...)...)
}

// FileSendArgs copies a file onto the device.
func (b Bridge) FileSendArgs(local, remote string) []string {
	return b.argv("file", "send", local, remote)
}

// TconnArgs connects to a device over the network.
func (b Bridge) TconnArgs(addr string) []string {
	return b.argv("tconn", addr)
}

// DeviceInstallArgs installs a package already copied onto the device.
func (b Bridge) DeviceInstallArgs(devicePath string) []string {
	return b.ShellArgs("bm", "install", "-p", devicePath)
}

// ListTargetsArgs lists connected devices.
func (b Bridge) ListTargetsArgs() []string {
	return Bridge{Path: b.Path}.argv("list", "targets")
}

// Check turns a non-zero exit or a failure marker into RemoteCommandFailed
// for the named step, carrying the captured output as the diagnostic.
func (b Bridge) Check(step string, out Output) error {
	if out.ExitCode != 0 {
		text := out.Text()
		if text == "" {
			text = fmt.Sprintf("exit status %d", out.ExitCode)
		}
		return core.RemoteCommandFailed(step, text).WithDetails(map[string]interface{}{"exit_code": out.ExitCode})
	}
	combined := out.Stdout + "\n" + out.Stderr
	for _, m := range b.FailureMarkers {
		if m != "" && strings.Contains(combined, m) {
			return core.RemoteCommandFailed(step, out.Text())
		}
	}
	return nil
}

// ParseTargets parses `hdc list targets` output.
func ParseTargets(out string) []string {
	var targets []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[Empty]") {
			continue
		}
		targets = append(targets, strings.Fields(line)[0])
	}
	return targets
}

// FindBridge resolves the bridge executable on PATH.
func FindBridge(name string) (string, error) {
	if name == "" {
		name = "hdc"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH; install the device toolchain or set deploy.bridge", name)
	}
	return path, nil
}
