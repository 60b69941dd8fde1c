package desktop

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes a helper command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// XDesktop drives an X11 session through wmctrl, xprop and xdotool.
type XDesktop struct {
	run Runner
}

// NewX returns an XDesktop using the helper binaries found on PATH.
func NewX() *XDesktop {
	return &XDesktop{run: execRunner}
}

// NewXWithRunner returns an XDesktop that executes helpers through run.
func NewXWithRunner(run Runner) *XDesktop {
	return &XDesktop{run: run}
}

// CheckTools verifies the helper binaries are installed.
func CheckTools() error {
	var missing []string
	for _, tool := range []string{"wmctrl", "xprop", "xdotool"} {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("desktop helpers not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, errMsg)
	}
	return stdout.Bytes(), nil
}

// Windows lists managed top-level windows in stacking order.
func (d *XDesktop) Windows(ctx context.Context) ([]Window, error) {
	out, err := d.run(ctx, "wmctrl", "-lG")
	if err != nil {
		return nil, err
	}
	return ParseWindowList(string(out))
}

// WindowState reads _NET_WM_STATE and compares the id with the active window.
func (d *XDesktop) WindowState(ctx context.Context, id string) (State, error) {
	out, err := d.run(ctx, "xprop", "-id", id, "_NET_WM_STATE")
	if err != nil {
		return State{}, err
	}
	st := State{Minimized: strings.Contains(string(out), "_NET_WM_STATE_HIDDEN")}

	if active, err := d.ActiveWindow(ctx); err == nil {
		st.Active = active == NormalizeID(id)
	}
	return st, nil
}

// Activate switches to the window's desktop, raises and focuses it.
func (d *XDesktop) Activate(ctx context.Context, id string) error {
	_, err := d.run(ctx, "wmctrl", "-i", "-a", id)
	return err
}

// ActiveWindow returns the focused window id.
func (d *XDesktop) ActiveWindow(ctx context.Context) (string, error) {
	out, err := d.run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return "", err
	}
	return NormalizeID(strings.TrimSpace(string(out))), nil
}

// KeyCombo sends one chord, e.g. [ctrl alt shift s].
func (d *XDesktop) KeyCombo(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("empty key combo")
	}
	_, err := d.run(ctx, "xdotool", "key", "--clearmodifiers", KeySequence(keys))
	return err
}

// Click moves the pointer and presses the left button.
func (d *XDesktop) Click(ctx context.Context, x, y int) error {
	_, err := d.run(ctx, "xdotool", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y), "click", "1")
	return err
}

// PointerPosition returns the pointer location in screen coordinates.
func (d *XDesktop) PointerPosition(ctx context.Context) (int, int, error) {
	out, err := d.run(ctx, "xdotool", "getmouselocation", "--shell")
	if err != nil {
		return 0, 0, err
	}
	return parseMouseLocation(string(out))
}

// ScreenSize returns the display geometry.
func (d *XDesktop) ScreenSize(ctx context.Context) (int, int, error) {
	out, err := d.run(ctx, "xdotool", "getdisplaygeometry")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
	}
	w, errW := strconv.Atoi(fields[0])
	h, errH := strconv.Atoi(fields[1])
	if errW != nil || errH != nil {
		return 0, 0, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
	}
	return w, h, nil
}

// ParseWindowList parses `wmctrl -lG` output:
//
//	0x03a00007  0 1920 27   1600 900  host Title with spaces
func ParseWindowList(out string) ([]Window, error) {
	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, title := splitFields(line, 7)
		if len(fields) < 7 {
			return nil, fmt.Errorf("unexpected wmctrl line %q", line)
		}
		var nums [4]int
		for i := range nums {
			n, err := strconv.Atoi(fields[2+i])
			if err != nil {
				return nil, fmt.Errorf("unexpected wmctrl line %q: %w", line, err)
			}
			nums[i] = n
		}
		windows = append(windows, Window{
			ID:     NormalizeID(fields[0]),
			Title:  title,
			Bounds: Bounds{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]},
		})
	}
	return windows, nil
}

// splitFields takes n whitespace-separated fields and returns the remainder
// with its inner spacing intact.
func splitFields(line string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	rest := line
	for len(fields) < n {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			fields = append(fields, rest)
			rest = ""
			break
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}
	return fields, strings.TrimSpace(rest)
}

func parseMouseLocation(out string) (int, int, error) {
	x, y := -1, -1
	for _, line := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			x = n
		case "Y":
			y = n
		}
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("unexpected mouse location %q", strings.TrimSpace(out))
	}
	return x, y, nil
}

// NormalizeID formats hex or decimal window ids as 0x%08x so ids from
// different tools compare equal.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	var n uint64
	var err error
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		n, err = strconv.ParseUint(id[2:], 16, 32)
	} else {
		n, err = strconv.ParseUint(id, 10, 32)
	}
	if err != nil {
		return id
	}
	return fmt.Sprintf("0x%08x", n)
}

var keyNames = map[string]string{
	"ctrl":      "ctrl",
	"control":   "ctrl",
	"alt":       "alt",
	"shift":     "shift",
	"super":     "super",
	"win":       "super",
	"cmd":       "super",
	"enter":     "Return",
	"return":    "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
}

// KeyName maps a portable key token to its X keysym name.
func KeyName(token string) string {
	lower := strings.ToLower(token)
	if name, ok := keyNames[lower]; ok {
		return name
	}
	// Function keys: f9 -> F9
	if len(lower) >= 2 && lower[0] == 'f' {
		if _, err := strconv.Atoi(lower[1:]); err == nil {
			return "F" + lower[1:]
		}
	}
	if len(token) == 1 {
		return lower
	}
	return token
}

// KeySequence joins tokens into an xdotool chord such as ctrl+alt+shift+s.
func KeySequence(keys []string) string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = KeyName(k)
	}
	return strings.Join(names, "+")
}
