package adb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/monitor"
	"github.com/nerrad567/droidpanel-core/internal/process"
)

// Defaults.
const (
	DefaultBinary = "adb"

	// DefaultLookupTimeout bounds a single pidof/oom lookup.
	DefaultLookupTimeout = 5 * time.Second

	// CachedOOMScore is the oom_score_adj at or above which Android
	// considers a process cached (background, eligible for reclaim).
	CachedOOMScore = 900

	// DefaultLevel is the logcat priority used when none is given.
	DefaultLevel = "V"
)

// Domain errors for the adb package.
var (
	// ErrInvalidLevel is returned for an unknown logcat priority.
	ErrInvalidLevel = errors.New("adb: invalid log level")

	// ErrInvalidSerial is returned for an empty device serial.
	ErrInvalidSerial = errors.New("adb: device serial is required")
)

// Runner runs a short adb command and returns its stdout.
type Runner interface {
	Output(ctx context.Context, cmd process.Command) ([]byte, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd process.Command) ([]byte, error)

// Output calls f(ctx, cmd).
func (f RunnerFunc) Output(ctx context.Context, cmd process.Command) ([]byte, error) {
	return f(ctx, cmd)
}

// Client builds and runs adb commands.
type Client struct {
	binary  string
	runner  Runner
	timeout time.Duration
}

// New creates a Client for the given adb binary ("" means "adb" on PATH).
func New(binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{
		binary:  binary,
		runner:  RunnerFunc(process.Output),
		timeout: DefaultLookupTimeout,
	}
}

// SetRunner replaces the command runner.
func (c *Client) SetRunner(r Runner) {
	if r != nil {
		c.runner = r
	}
}

// SetLookupTimeout changes the per-lookup timeout.
func (c *Client) SetLookupTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Binary returns the adb executable.
func (c *Client) Binary() string { return c.binary }

func (c *Client) command(name, serial string, args ...string) process.Command {
	return process.Command{
		Name:   name,
		Binary: c.binary,
		Args:   append([]string{"-s", serial}, args...),
	}
}

func (c *Client) run(ctx context.Context, cmd process.Command) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.runner.Output(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// PID returns the pid of pkg on the device, or "" when it is not running.
func (c *Client) PID(ctx context.Context, serial, pkg string) (string, error) {
	out, err := c.run(ctx, c.command("pidof", serial, "shell", "pidof", "-s", pkg))
	if err != nil {
		// pidof exits 1 when nothing matches.
		if isExitError(err) {
			return "", nil
		}
		return "", fmt.Errorf("pidof %s on %s: %w", pkg, serial, err)
	}
	if fields := strings.Fields(out); len(fields) > 0 {
		return fields[0], nil
	}
	return "", nil
}

// OOMScore reads /proc/<pid>/oom_score_adj on the device.
func (c *Client) OOMScore(ctx context.Context, serial, pid string) (int, error) {
	out, err := c.run(ctx, c.command("oom", serial, "shell", "cat", "/proc/"+pid+"/oom_score_adj"))
	if err != nil {
		return 0, fmt.Errorf("reading oom score of %s on %s: %w", pid, serial, err)
	}
	score, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing oom score %q: %w", out, err)
	}
	return score, nil
}

// Resolver returns a monitor.Resolver that maps a package name on serial
// to its pid. Cached processes resolve as stale. An unreadable oom score
// does not make a process stale.
func (c *Client) Resolver(serial string) monitor.Resolver {
	return monitor.ResolverFunc(func(ctx context.Context, pkg string) (monitor.Resolution, error) {
		pid, err := c.PID(ctx, serial, pkg)
		if err != nil {
			return monitor.Resolution{}, err
		}
		if pid == "" {
			return monitor.Resolution{}, nil
		}
		score, err := c.OOMScore(ctx, serial, pid)
		if err != nil {
			return monitor.Resolution{Identity: pid}, nil
		}
		return monitor.Resolution{Identity: pid, Stale: score >= CachedOOMScore}, nil
	})
}

// NormalizeLevel validates a logcat priority letter ("" means verbose).
func NormalizeLevel(level string) (string, error) {
	if level == "" {
		return DefaultLevel, nil
	}
	l := strings.ToUpper(level)
	switch l {
	case "V", "D", "I", "W", "E", "F", "S":
		return l, nil
	}
	// Accept full names such as "debug" or "Error".
	switch l {
	case "VERBOSE":
		return "V", nil
	case "DEBUG":
		return "D", nil
	case "INFO":
		return "I", nil
	case "WARN", "WARNING":
		return "W", nil
	case "ERROR":
		return "E", nil
	case "FATAL":
		return "F", nil
	case "SILENT":
		return "S", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLevel, level)
}

// LogcatCommand returns the streaming logcat command for serial, filtered
// to pid when pid is not empty. level must already be normalized.
func (c *Client) LogcatCommand(serial, pid, level string) process.Command {
	args := []string{"shell", "logcat"}
	if pid != "" {
		args = append(args, "--pid", pid)
	}
	args = append(args, "-v", "threadtime", "*:"+level)
	return c.command("logcat", serial, args...)
}

// ClearLogcat empties the device's logcat ring buffers.
func (c *Client) ClearLogcat(ctx context.Context, serial string) error {
	if serial == "" {
		return ErrInvalidSerial
	}
	if _, err := c.run(ctx, c.command("logcat-clear", serial, "logcat", "-c")); err != nil {
		return fmt.Errorf("clearing logcat on %s: %w", serial, err)
	}
	return nil
}

func isExitError(err error) bool {
	return err != nil && !errors.Is(err, process.ErrSpawn) && !errors.Is(err, context.DeadlineExceeded)
}
