//go:build unix

package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// sysProcAttr makes the child lead its own process group so the whole
// tree can be signalled through the negative pid.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree sends SIGTERM to the process group, waits up to grace for
// the leader to exit, then SIGKILLs whatever is left of the group.
//
// Once the leader has been reaped its pid is free. The group id stays
// reserved only while some member is alive, so after the leader exits the
// group is swept with a single SIGKILL and the bare pid is never signalled.
// A group with no members left may in principle have been recreated by an
// unrelated process that was given the same pid; that window is bounded by
// the reap-to-sweep delay and accepted.
func terminateTree(pid int, grace time.Duration, done <-chan struct{}) error {
	if pid <= 0 {
		return nil
	}
	if exited(done) {
		return sweepGroup(pid)
	}

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		// Fall back to the leader alone if the group is not ours.
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("sigterm %d: %w", pid, err)
		}
	}

	select {
	case <-done:
	case <-time.After(grace):
	}

	// Wrapped commands leave children behind when the leader exits first.
	if exited(done) {
		return sweepGroup(pid)
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("sigkill %d: %w", pid, err)
		}
	}
	return nil
}

// sweepGroup kills the members left in the group of a reaped leader.
func sweepGroup(pgid int) error {
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("sigkill group %d: %w", pgid, err)
	}
	return nil
}

func exited(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Alive reports whether pid names a live (non-zombie) process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	if runtime.GOOS != "linux" {
		return true
	}
	// Kill(pid, 0) succeeds for zombies that nobody reaped yet.
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	// Format: pid (comm) state ...; comm may contain spaces and parens.
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return true
	}
	state := stat[i+2]
	return state != 'Z' && state != 'X'
}
