// Package config handles configuration for buildpilot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only configuration schema version this build understands.
const CurrentVersion = 1

// Deploy target kinds.
const (
	TargetLocal = "local-device"
	TargetRelay = "relay-host"
)

// Config represents the workspace configuration (buildpilot.yaml).
type Config struct {
	Version int `yaml:"version"`

	Window   WindowConfig          `yaml:"window"`
	Input    InputConfig           `yaml:"input"`
	Actions  map[string][]StepSpec `yaml:"actions"` // Recipe overrides by action name
	Tabs     map[string]Offset     `yaml:"tabs"`    // select-tab:<name> offsets
	Artifact ArtifactConfig        `yaml:"artifact"`
	Deploy   DeployConfig          `yaml:"deploy"`
	Logs     LogsConfig            `yaml:"logs"`
	Log      LogConfig             `yaml:"log"`

	LockFile  string `yaml:"lock_file"`
	ReportDir string `yaml:"report_dir"`
}

// WindowConfig configures the Window Locator.
type WindowConfig struct {
	Titles        []string      `yaml:"titles"`         // Substring patterns in priority order
	LaunchCommand []string      `yaml:"launch_command"` // Started once if no window matches
	LaunchTimeout time.Duration `yaml:"launch_timeout"` // Overall locate poll bound (0 = single scan)
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryDelay    time.Duration `yaml:"retry_delay"` // Delay before the second foreground request
}

// InputConfig configures the Input Controller.
type InputConfig struct {
	SettleDelay    time.Duration `yaml:"settle_delay"`
	FailSafeCorner string        `yaml:"fail_safe_corner"` // top-left, top-right, bottom-left, bottom-right, any, off
	FailSafeMargin int           `yaml:"fail_safe_margin"` // Pixels from the corner
	GuardInterval  time.Duration `yaml:"guard_interval"`   // Pointer poll interval while waiting
}

// StepSpec is one primitive step of an action recipe.
type StepSpec struct {
	Type    string        `yaml:"type"`             // keys, click, click-relative, sleep, expect-window
	Keys    []string      `yaml:"keys,omitempty"`   // keys: combo tokens
	Repeat  int           `yaml:"repeat,omitempty"` // keys: press count (menu navigation)
	X       int           `yaml:"x,omitempty"`      // click
	Y       int           `yaml:"y,omitempty"`      // click
	DX      string        `yaml:"dx,omitempty"`     // click-relative: int or expression over left/top/width/height
	DY      string        `yaml:"dy,omitempty"`     // click-relative
	Window  []string      `yaml:"window,omitempty"` // click-relative / expect-window: title patterns
	Wait    time.Duration `yaml:"wait,omitempty"`   // sleep duration, or settle override
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Offset is a window-relative position.
type Offset struct {
	DX     string   `yaml:"dx"`
	DY     string   `yaml:"dy"`
	Window []string `yaml:"window,omitempty"`
}

// ArtifactConfig configures the Completion Watcher.
type ArtifactConfig struct {
	Path         string        `yaml:"path"`
	Epsilon      time.Duration `yaml:"epsilon"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	BuildAction  string        `yaml:"build_action"` // Catalog action that produces the artifact
}

// DeployConfig selects and configures the deploy target.
type DeployConfig struct {
	Target         string        `yaml:"target"` // local-device or relay-host
	Bridge         string        `yaml:"bridge"` // Device-bridge executable (local path or remote command)
	Serial         string        `yaml:"serial"`
	FailureMarkers []string      `yaml:"failure_markers"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
	Relay          RelayConfig   `yaml:"relay"`
}

// RelayConfig configures the relay-host target.
type RelayConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	PasswordPrompt  bool          `yaml:"password_prompt"`
	KeyFile         string        `yaml:"key_file"`
	KnownHosts      string        `yaml:"known_hosts"`
	InsecureHostKey bool          `yaml:"insecure_host_key"`
	StagingPath     string        `yaml:"staging_path"`   // Remote file the artifact is uploaded to
	DevicePath      string        `yaml:"device_path"`    // Path on the device for file send
	DeviceAddress   string        `yaml:"device_address"` // tconn address (ip:port)
	Bridge          string        `yaml:"bridge"`         // Device-bridge command on the relay host
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	Timeouts        StepTimeouts  `yaml:"timeouts"`
}

// StepTimeouts bounds each relay sub-command.
type StepTimeouts struct {
	Upload  time.Duration `yaml:"upload"`
	Connect time.Duration `yaml:"connect"`
	Send    time.Duration `yaml:"send"`
	Install time.Duration `yaml:"install"`
	Logs    time.Duration `yaml:"logs"`
	Exec    time.Duration `yaml:"exec"`
}

// LogsConfig configures device log diagnostics.
type LogsConfig struct {
	Tag      string        `yaml:"tag"`
	MaxLines int           `yaml:"max_lines"`
	MaxBytes int           `yaml:"max_bytes"`
	Stream   time.Duration `yaml:"stream"`
}

// LogConfig configures the tool's own log.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load loads configuration from a file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("read config").WithCause(err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("parse config").WithCause(err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err)
	}
	return &cfg, nil
}

// Default returns a validated-shape config with only defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// LoadFromDir looks for buildpilot.yaml or buildpilot.yml in the directory,
// then <home>/config.yaml. It returns defaults when none exists.
func LoadFromDir(dir string) (*Config, error) {
	candidates := []string{
		filepath.Join(dir, "buildpilot.yaml"),
		filepath.Join(dir, "buildpilot.yml"),
		filepath.Join(GetHome(), "config.yaml"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Default(), nil
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}

	if c.Window.PollInterval == 0 {
		c.Window.PollInterval = time.Second
	}
	if c.Window.RetryDelay == 0 {
		c.Window.RetryDelay = 300 * time.Millisecond
	}

	if c.Input.SettleDelay == 0 {
		c.Input.SettleDelay = 500 * time.Millisecond
	}
	if c.Input.FailSafeCorner == "" {
		c.Input.FailSafeCorner = "top-left"
	}
	if c.Input.FailSafeMargin == 0 {
		c.Input.FailSafeMargin = 2
	}
	if c.Input.GuardInterval == 0 {
		c.Input.GuardInterval = 250 * time.Millisecond
	}

	if c.Artifact.Epsilon == 0 {
		c.Artifact.Epsilon = time.Second
	}
	if c.Artifact.PollInterval == 0 {
		c.Artifact.PollInterval = 5 * time.Second
	}
	if c.Artifact.Timeout == 0 {
		c.Artifact.Timeout = 300 * time.Second
	}
	if c.Artifact.BuildAction == "" {
		c.Artifact.BuildAction = "build"
	}

	if c.Deploy.Target == "" {
		c.Deploy.Target = TargetLocal
	}
	if c.Deploy.Bridge == "" {
		c.Deploy.Bridge = "hdc"
	}
	if c.Deploy.FailureMarkers == nil {
		c.Deploy.FailureMarkers = []string{"[Fail]"}
	}
	if c.Deploy.InstallTimeout == 0 {
		c.Deploy.InstallTimeout = 120 * time.Second
	}

	r := &c.Deploy.Relay
	if r.Port == 0 {
		r.Port = 22
	}
	if r.Bridge == "" {
		r.Bridge = "hdc"
	}
	if r.StagingPath == "" && c.Artifact.Path != "" {
		r.StagingPath = "/tmp/" + filepath.Base(c.Artifact.Path)
	}
	if r.DevicePath == "" && c.Artifact.Path != "" {
		r.DevicePath = "/data/local/tmp/" + filepath.Base(c.Artifact.Path)
	}
	if r.ConnectTimeout == 0 {
		r.ConnectTimeout = 30 * time.Second
	}
	if r.Timeouts.Upload == 0 {
		r.Timeouts.Upload = 5 * time.Minute
	}
	if r.Timeouts.Connect == 0 {
		r.Timeouts.Connect = 10 * time.Second
	}
	if r.Timeouts.Send == 0 {
		r.Timeouts.Send = 60 * time.Second
	}
	if r.Timeouts.Install == 0 {
		r.Timeouts.Install = 30 * time.Second
	}
	if r.Timeouts.Logs == 0 {
		r.Timeouts.Logs = 15 * time.Second
	}
	if r.Timeouts.Exec == 0 {
		r.Timeouts.Exec = 30 * time.Second
	}
	if r.Password == "" {
		r.Password = os.Getenv(envRelayPassword)
	}

	if c.Logs.MaxLines == 0 {
		c.Logs.MaxLines = 200
	}
	if c.Logs.MaxBytes == 0 {
		c.Logs.MaxBytes = 8000
	}
	if c.Logs.Stream == 0 {
		c.Logs.Stream = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(GetLogDir(), "buildpilot.log")
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(os.TempDir(), "buildpilot.lock")
	}
	if c.ReportDir == "" {
		c.ReportDir = GetRunsDir()
	}
}

// Validate checks structural constraints. Fields only needed by a subset of
// commands (artifact path, relay host) are checked by RequireArtifact/RequireTarget.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d (want %d)", c.Version, CurrentVersion)
	}
	switch c.Input.FailSafeCorner {
	case "top-left", "top-right", "bottom-left", "bottom-right", "any", "off":
	default:
		return fmt.Errorf("input.fail_safe_corner: invalid value %q", c.Input.FailSafeCorner)
	}
	if c.Input.FailSafeMargin < 0 {
		return fmt.Errorf("input.fail_safe_margin must not be negative")
	}
	if c.Artifact.PollInterval <= 0 {
		return fmt.Errorf("artifact.poll_interval must be positive")
	}
	if c.Artifact.Timeout <= 0 {
		return fmt.Errorf("artifact.timeout must be positive")
	}
	if c.Artifact.Epsilon < 0 {
		return fmt.Errorf("artifact.epsilon must not be negative")
	}
	switch c.Deploy.Target {
	case TargetLocal, TargetRelay:
	default:
		return fmt.Errorf("deploy.target: invalid value %q (%s|%s)", c.Deploy.Target, TargetLocal, TargetRelay)
	}
	r := c.Deploy.Relay
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"deploy.install_timeout", c.Deploy.InstallTimeout},
		{"deploy.relay.connect_timeout", r.ConnectTimeout},
		{"deploy.relay.timeouts.upload", r.Timeouts.Upload},
		{"deploy.relay.timeouts.connect", r.Timeouts.Connect},
		{"deploy.relay.timeouts.send", r.Timeouts.Send},
		{"deploy.relay.timeouts.install", r.Timeouts.Install},
		{"deploy.relay.timeouts.logs", r.Timeouts.Logs},
		{"deploy.relay.timeouts.exec", r.Timeouts.Exec},
	} {
		// Zero was replaced by SetDefaults; a negative value would disable the bound.
		if d.value < 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	for name, steps := range c.Actions {
		if len(steps) == 0 {
			return fmt.Errorf("actions.%s: recipe has no steps", name)
		}
		for i, s := range steps {
			if err := s.validate(); err != nil {
				return fmt.Errorf("actions.%s[%d]: %w", name, i, err)
			}
		}
	}
	for name, off := range c.Tabs {
		if off.DX == "" || off.DY == "" {
			return fmt.Errorf("tabs.%s: dx and dy required", name)
		}
	}
	return nil
}

func (s StepSpec) validate() error {
	switch s.Type {
	case "keys":
		if len(s.Keys) == 0 {
			return errors.New("keys step needs at least one key")
		}
		if s.Repeat < 0 {
			return errors.New("repeat must not be negative")
		}
	case "click":
		if s.X < 0 || s.Y < 0 {
			return errors.New("click coordinates must not be negative")
		}
	case "click-relative":
		if s.DX == "" || s.DY == "" {
			return errors.New("click-relative needs dx and dy")
		}
	case "sleep":
		if s.Wait <= 0 {
			return errors.New("sleep needs a positive wait")
		}
	case "expect-window":
		if len(s.Window) == 0 {
			return errors.New("expect-window needs window patterns")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// RequireWindow checks the settings needed to locate the IDE.
func (c *Config) RequireWindow() error {
	if len(c.Window.Titles) == 0 {
		return core.ErrInvalidConfig.WithMessage("window.titles: at least one pattern required")
	}
	return nil
}

// RequireArtifact checks the settings needed to watch the build output.
func (c *Config) RequireArtifact() error {
	if c.Artifact.Path == "" {
		return core.ErrInvalidConfig.WithMessage("artifact.path required")
	}
	return nil
}

// RequireTarget checks the settings needed by the selected deploy target.
func (c *Config) RequireTarget() error {
	if c.Deploy.Target != TargetRelay {
		return nil
	}
	r := c.Deploy.Relay
	switch {
	case r.Host == "":
		return core.ErrInvalidConfig.WithMessage("deploy.relay.host required")
	case r.User == "":
		return core.ErrInvalidConfig.WithMessage("deploy.relay.user required")
	case r.Password == "" && r.KeyFile == "" && !r.PasswordPrompt:
		return core.ErrInvalidConfig.WithMessage("deploy.relay: password, password_prompt or key_file required")
	case r.StagingPath == "":
		return core.ErrInvalidConfig.WithMessage("deploy.relay.staging_path required")
	case r.DevicePath == "":
		return core.ErrInvalidConfig.WithMessage("deploy.relay.device_path required")
	}
	return nil
}

// Overrides are command-line values that replace file settings. Zero
// values leave the setting unchanged.
type Overrides struct {
	Artifact     string
	Timeout      time.Duration
	PollInterval time.Duration
	Target       string
	Serial       string
	Tag          string
}

// Apply merges o into c and re-validates. Relay paths that were derived
// from the previous artifact name follow the new one.
func (c *Config) Apply(o Overrides) error {
	if o.Artifact != "" && o.Artifact != c.Artifact.Path {
		r := &c.Deploy.Relay
		if old := c.Artifact.Path; old != "" {
			if r.StagingPath == "/tmp/"+filepath.Base(old) {
				r.StagingPath = ""
			}
			if r.DevicePath == "/data/local/tmp/"+filepath.Base(old) {
				r.DevicePath = ""
			}
		}
		c.Artifact.Path = o.Artifact
	}
	if o.Timeout != 0 {
		c.Artifact.Timeout = o.Timeout
	}
	if o.PollInterval != 0 {
		c.Artifact.PollInterval = o.PollInterval
	}
	if o.Target != "" {
		c.Deploy.Target = o.Target
	}
	if o.Serial != "" {
		c.Deploy.Serial = o.Serial
	}
	if o.Tag != "" {
		c.Logs.Tag = o.Tag
	}

	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return core.ErrInvalidConfig.WithCause(err)
	}
	return nil
}
