package supervisor

import (
	"fmt"
	"regexp"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/monitor"
	"github.com/nerrad567/droidpanel-core/internal/output"
	"github.com/nerrad567/droidpanel-core/internal/process"
)

// Default timings.
const (
	DefaultPollInterval    = monitor.DefaultInterval
	DefaultNotFoundBackoff = 1500 * time.Millisecond
	DefaultSpawnRetry      = 2 * time.Second
	DefaultRestartDelay    = time.Second
	DefaultReadyTimeout    = 10 * time.Second
	DefaultDrainTimeout    = 2 * time.Second
)

// Kind selects the restart policy of a unit.
type Kind string

const (
	// KindLongLived units are respawned until stopped.
	KindLongLived Kind = "long-lived"

	// KindOneShot units run once and end with an exit event.
	KindOneShot Kind = "one-shot"
)

// CommandFunc builds the command for a spawn. identity is the resolved
// target identity, or "" for filterless units.
type CommandFunc func(identity string) process.Command

// Config configures a Supervisor.
type Config struct {
	// Key identifies the unit within its registry.
	Key string

	Kind Kind

	// Command builds the process command for each spawn. Required.
	Command CommandFunc

	// Target is the optional identity filter (e.g. a package name).
	Target string

	// Resolver looks up Target. Required when Target is set.
	Resolver monitor.Resolver

	// MirrorPath, if set, receives every line in append mode.
	MirrorPath string

	// CaptureStderr relays stderr separately with StderrPrefix. When false
	// stderr is merged into stdout.
	CaptureStderr bool
	StderrPrefix  string

	// Header is appended to the buffer when the unit starts.
	Header string

	// Buffer receives the unit's output. A new buffer is created when nil.
	Buffer *output.Buffer

	// Publisher receives line, state, spawn, restart and exit events.
	Publisher events.Publisher

	PollInterval    time.Duration
	NotFoundBackoff time.Duration
	SpawnBackoff    process.Backoff
	RestartDelay    time.Duration
	DrainTimeout    time.Duration

	// ReadyPattern makes Start wait for the first matching output line.
	// The first submatch (or the whole match) is returned from Start.
	ReadyPattern *regexp.Regexp
	ReadyTimeout time.Duration

	// Hooks. They run on the supervisor goroutine and must not block.
	OnSpawn   func(pid int, identity string)
	OnRestart func(reason monitor.Reason)
	OnExit    func(status process.Status, reason monitor.Reason)
	OnState   func(phase Phase)

	Logger Logger
}

func (c *Config) applyDefaults() {
	if c.Kind == "" {
		c.Kind = KindLongLived
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NotFoundBackoff <= 0 {
		c.NotFoundBackoff = DefaultNotFoundBackoff
	}
	if c.SpawnBackoff.Base <= 0 {
		c.SpawnBackoff = process.Fixed(DefaultSpawnRetry)
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.ReadyPattern != nil && c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.CaptureStderr && c.StderrPrefix == "" {
		c.StderrPrefix = output.StderrPrefix
	}
	if c.Publisher == nil {
		c.Publisher = events.Discard
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

func (c *Config) validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidConfig)
	}
	if c.Command == nil {
		return fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}
	if c.Kind != KindLongLived && c.Kind != KindOneShot {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, c.Kind)
	}
	if c.Target != "" && c.Resolver == nil {
		return fmt.Errorf("%w: target %q has no resolver", ErrInvalidConfig, c.Target)
	}
	if c.Target != "" && c.Kind == KindOneShot {
		return fmt.Errorf("%w: one-shot units cannot be filtered", ErrInvalidConfig)
	}
	return nil
}

// Logger is the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
