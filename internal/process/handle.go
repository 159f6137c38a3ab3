package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultGracefulTimeout is how long Terminate waits after the polite
// signal before force-killing the process tree.
const DefaultGracefulTimeout = 3 * time.Second

// State is the coarse lifecycle state reported by Poll.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateError   State = "error"
)

// Status is the result of a non-blocking Poll.
type Status struct {
	State    State
	ExitCode int   // valid when State == StateExited; -1 when killed by a signal
	Err      error // set when State == StateError
}

// Running reports whether the process has not yet exited.
func (s Status) Running() bool { return s.State == StateRunning }

// Command describes the external process to spawn.
type Command struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the executable path or name (resolved via PATH).
	Binary string

	// Args are the command-line arguments (excluding the binary).
	Args []string

	// Env holds additional KEY=VALUE pairs appended to the parent environment.
	Env []string

	// Dir is the working directory; empty means inherit.
	Dir string

	// MergeStderr sends stderr into the stdout pipe.
	MergeStderr bool

	// GracefulTimeout overrides DefaultGracefulTimeout for Terminate.
	GracefulTimeout time.Duration
}

// Handle owns exactly one spawned OS process.
//
// Thread Safety: all methods are safe for concurrent use. Ownership of the
// pipe read ends transfers out through TakeStdout/TakeStderr exactly once.
type Handle struct {
	name    string
	cmd     *exec.Cmd
	pid     int
	started time.Time
	grace   time.Duration

	pipeMu sync.Mutex
	stdout *os.File
	stderr *os.File
	outOK  bool
	errOK  bool
	merged bool

	done     chan struct{}
	exitCode int
	waitErr  error

	termOnce sync.Once
}

// Spawn starts c with captured stdout/stderr.
//
// The process is placed in its own process group (Unix) or created without
// a console window (Windows). When ctx is cancelled the whole process tree
// is terminated, so a Handle never outlives the context that spawned it.
func Spawn(ctx context.Context, c Command) (*Handle, error) {
	if c.Binary == "" {
		return nil, &SpawnError{Binary: c.Name, Err: ErrInvalidCommand}
	}
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Binary: c.Binary, Err: err}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Binary: c.Binary, Err: fmt.Errorf("creating stdout pipe: %w", err)}
	}
	var errR, errW *os.File
	if !c.MergeStderr {
		errR, errW, err = os.Pipe()
		if err != nil {
			outR.Close()
			outW.Close()
			return nil, &SpawnError{Binary: c.Binary, Err: fmt.Errorf("creating stderr pipe: %w", err)}
		}
	}

	grace := c.GracefulTimeout
	if grace <= 0 {
		grace = DefaultGracefulTimeout
	}

	h := &Handle{
		name:   c.Name,
		grace:  grace,
		merged: c.MergeStderr,
		done:   make(chan struct{}),
	}

	cmd := exec.Command(c.Binary, c.Args...) //nolint:gosec // binary comes from operator config
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = nil
	cmd.Stdout = outW
	if c.MergeStderr {
		cmd.Stderr = outW
	} else {
		cmd.Stderr = errW
	}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		if errR != nil {
			errR.Close()
			errW.Close()
		}
		return nil, &SpawnError{Binary: c.Binary, Err: err}
	}

	// The child holds its own copies of the write ends; closing ours lets
	// readers see EOF once the process tree exits.
	outW.Close()
	if errW != nil {
		errW.Close()
	}

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.started = time.Now()
	h.stdout, h.outOK = outR, true
	h.stderr, h.errOK = errR, errR != nil

	go h.wait()
	go func() {
		select {
		case <-ctx.Done():
			h.Terminate()
		case <-h.done:
		}
	}()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.exitCode = code
	h.waitErr = err
	close(h.done)
}

// Name returns the logical name the process was spawned under.
func (h *Handle) Name() string { return h.name }

// PID returns the OS process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.started }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Poll reports the process state without blocking.
func (h *Handle) Poll() Status {
	select {
	case <-h.done:
	default:
		return Status{State: StateRunning}
	}
	var exitErr *exec.ExitError
	if h.waitErr != nil && !errors.As(h.waitErr, &exitErr) {
		return Status{State: StateError, ExitCode: h.exitCode, Err: h.waitErr}
	}
	return Status{State: StateExited, ExitCode: h.exitCode}
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.done:
		return h.Poll(), nil
	case <-ctx.Done():
		return h.Poll(), ctx.Err()
	}
}

// Terminate kills the whole process tree and waits briefly for the reap.
// It is safe to call repeatedly and after the process already exited.
func (h *Handle) Terminate() {
	h.termOnce.Do(func() {
		// Errors here mean the tree is already gone.
		_ = terminateTree(h.pid, h.grace, h.done)
	})
	select {
	case <-h.done:
	case <-time.After(h.grace):
	}
}

// TakeStdout transfers ownership of the stdout read end to the caller.
// The caller must close it.
func (h *Handle) TakeStdout() (io.ReadCloser, error) {
	h.pipeMu.Lock()
	defer h.pipeMu.Unlock()
	if !h.outOK {
		return nil, ErrPipeTaken
	}
	h.outOK = false
	r := h.stdout
	h.stdout = nil
	return r, nil
}

// TakeStderr transfers ownership of the stderr read end to the caller.
// Returns ErrNotCaptured when stderr was merged into stdout.
func (h *Handle) TakeStderr() (io.ReadCloser, error) {
	h.pipeMu.Lock()
	defer h.pipeMu.Unlock()
	if h.merged {
		return nil, ErrNotCaptured
	}
	if !h.errOK {
		return nil, ErrPipeTaken
	}
	h.errOK = false
	r := h.stderr
	h.stderr = nil
	return r, nil
}

// Release closes any pipe read ends that were never taken.
func (h *Handle) Release() {
	h.pipeMu.Lock()
	defer h.pipeMu.Unlock()
	if h.outOK && h.stdout != nil {
		h.stdout.Close()
	}
	if h.errOK && h.stderr != nil {
		h.stderr.Close()
	}
	h.stdout, h.stderr = nil, nil
	h.outOK, h.errOK = false, false
}
