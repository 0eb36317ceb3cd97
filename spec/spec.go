// Package spec defines the service descriptor table: the static, declarative
// description of every service warden manages. Descriptors are loaded once at
// supervisor start and treated as immutable for the process lifetime.
package spec

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime kinds.
const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// Health check types.
const (
	HealthTCP  = "tcp"
	HealthHTTP = "http"
	HealthGRPC = "grpc"
)

// Restart policies.
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// Config is the top-level supervisor configuration.
type Config struct {
	// Listen is the address of the control/status HTTP listener.
	Listen string `yaml:"listen,omitempty"`

	// PollInterval is the watchdog probe interval per service.
	PollInterval Duration `yaml:"poll_interval,omitempty"`

	// LogDir is where the supervisor log and per-service output logs are
	// written. Empty disables file logging (stderr only).
	LogDir string `yaml:"log_dir,omitempty"`

	// PIDFile guards against a second supervisor instance.
	PIDFile string `yaml:"pid_file,omitempty"`

	// Services maps service names to their descriptors.
	Services map[string]Descriptor `yaml:"services"`
}

// EffectiveListen returns the control listener address, defaulting to a
// loopback-only port.
func (c *Config) EffectiveListen() string {
	if c.Listen != "" {
		return c.Listen
	}
	return "127.0.0.1:9911"
}

// EffectivePIDFile returns the PID file path, defaulting to the system
// temp directory.
func (c *Config) EffectivePIDFile() string {
	if c.PIDFile != "" {
		return c.PIDFile
	}
	return filepath.Join(os.TempDir(), "warden.pid")
}

// Descriptor declares a single managed service.
type Descriptor struct {
	// Name is the unique service name. Populated from the map key at load.
	Name string `yaml:"-"`

	// Runtime selects how the service is started: "process" (default)
	// or "docker".
	Runtime string `yaml:"runtime,omitempty"`

	// Command is the executable and its arguments (process runtime).
	Command []string `yaml:"command,omitempty"`

	// Dir is the working directory (process runtime). Optional.
	Dir string `yaml:"dir,omitempty"`

	// Env sets additional environment variables on the service.
	Env map[string]string `yaml:"env,omitempty"`

	// Image is the container image reference (docker runtime).
	Image string `yaml:"image,omitempty"`

	// Ports are the TCP ports the service listens on. They are reclaimed
	// from stale processes before launch. For the docker runtime each port
	// is also published host:port → container:port.
	Ports []int `yaml:"ports,omitempty"`

	// SharedPorts marks the declared ports as intentionally shared with
	// another descriptor, suppressing the duplicate-port validation error.
	SharedPorts bool `yaml:"shared_ports,omitempty"`

	// Health configures the readiness/liveness probe. A service without a
	// health spec is considered healthy as long as its handle is running.
	Health *HealthSpec `yaml:"health,omitempty"`

	// DependsOn lists services that must be healthy before this one starts.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Restart is the restart policy applied by the watchdog.
	Restart RestartPolicy `yaml:"restart,omitempty"`

	// StartTimeout bounds the wait for the first successful probe after
	// launch. Default 30s.
	StartTimeout Duration `yaml:"start_timeout,omitempty"`
}

// RuntimeKind returns the effective runtime, defaulting to "process".
func (d Descriptor) RuntimeKind() string {
	if d.Runtime == "" {
		return RuntimeProcess
	}
	return d.Runtime
}

// EffectiveStartTimeout returns the start timeout, defaulting to 30s.
func (d Descriptor) EffectiveStartTimeout() time.Duration {
	if d.StartTimeout.Duration > 0 {
		return d.StartTimeout.Duration
	}
	return 30 * time.Second
}

// HealthSpec configures the health probe for a service.
type HealthSpec struct {
	// Type is the probe type: "tcp", "http" or "grpc".
	// Defaults to "http" when URL is set, otherwise "tcp".
	Type string `yaml:"type,omitempty"`

	// Port is the probe target port (tcp/grpc). Defaults to the first
	// declared service port.
	Port int `yaml:"port,omitempty"`

	// URL is the GET target for http probes.
	URL string `yaml:"url,omitempty"`

	// Expect lists acceptable HTTP status codes. Default [200].
	Expect []int `yaml:"expect,omitempty"`

	// Timeout bounds each individual probe. Default 2s.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// EffectiveType returns the probe type, inferring it when unset.
func (h HealthSpec) EffectiveType() string {
	if h.Type != "" {
		return h.Type
	}
	if h.URL != "" {
		return HealthHTTP
	}
	return HealthTCP
}

// EffectiveTimeout returns the probe timeout, defaulting to 2s.
func (h HealthSpec) EffectiveTimeout() time.Duration {
	if h.Timeout.Duration > 0 {
		return h.Timeout.Duration
	}
	return 2 * time.Second
}

// ExpectedStatus reports whether an HTTP status code is in the expected set.
func (h HealthSpec) ExpectedStatus(code int) bool {
	if len(h.Expect) == 0 {
		return code == 200
	}
	for _, want := range h.Expect {
		if code == want {
			return true
		}
	}
	return false
}

// RestartPolicy declares how the watchdog reacts to an unhealthy service.
type RestartPolicy struct {
	// Policy is "never", "on-failure" or "always". Default "on-failure".
	Policy string `yaml:"policy,omitempty"`

	// MaxAttempts caps consecutive restart attempts before the service is
	// marked failed for good. Default 5.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Backoff is the base restart backoff; doubled per consecutive failure.
	// Default 1s.
	Backoff Duration `yaml:"backoff,omitempty"`

	// MaxBackoff caps the backoff growth. Default 30s.
	MaxBackoff Duration `yaml:"max_backoff,omitempty"`

	// ResetAfter is the sustained-healthy period after which the failure
	// counter and backoff reset to base. Default 60s.
	ResetAfter Duration `yaml:"reset_after,omitempty"`
}

// Kind returns the effective policy, defaulting to "on-failure".
func (p RestartPolicy) Kind() string {
	if p.Policy == "" {
		return RestartOnFailure
	}
	return p.Policy
}

// EffectiveMaxAttempts returns the attempt cap, defaulting to 5.
func (p RestartPolicy) EffectiveMaxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 5
}

// BackoffFor returns the backoff before restart attempt n (0-based):
// base × 2^n, capped at MaxBackoff.
func (p RestartPolicy) BackoffFor(attempt int) time.Duration {
	base := p.Backoff.Duration
	if base <= 0 {
		base = time.Second
	}
	maxBackoff := p.MaxBackoff.Duration
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// EffectiveResetAfter returns the sustained-healthy reset window, default 60s.
func (p RestartPolicy) EffectiveResetAfter() time.Duration {
	if p.ResetAfter.Duration > 0 {
		return p.ResetAfter.Duration
	}
	return 60 * time.Second
}

// Duration wraps time.Duration with YAML encoding as a string
// (e.g. "5s", "100ms") instead of nanoseconds.
type Duration struct {
	time.Duration
}

// IsZero reports whether d is the zero duration.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}

func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}
