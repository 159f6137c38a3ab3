package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Output runs a short-lived command to completion and returns its stdout.
// It applies the same console suppression as Spawn. Cancelling ctx kills
// the command.
func Output(ctx context.Context, c Command) ([]byte, error) {
	if c.Binary == "" {
		return nil, &SpawnError{Binary: c.Name, Err: ErrInvalidCommand}
	}
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec // binary comes from operator config
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.SysProcAttr = sysProcAttr()
	// Bound the wait for inherited pipes held by stray children.
	cmd.WaitDelay = time.Second

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s exited with code %d: %w", c.Binary, exitErr.ExitCode(), err)
		}
		return out, &SpawnError{Binary: c.Binary, Err: err}
	}
	return out, nil
}
