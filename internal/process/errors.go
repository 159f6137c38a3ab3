package process

import (
	"errors"
	"fmt"
)

// Domain errors for the process package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSpawn is returned when the executable cannot be located or launched.
	ErrSpawn = errors.New("process: spawn failed")

	// ErrInvalidCommand is returned when a Command has no binary.
	ErrInvalidCommand = errors.New("process: binary is required")

	// ErrPipeTaken is returned when a pipe read end was already handed out.
	ErrPipeTaken = errors.New("process: pipe already taken")

	// ErrNotCaptured is returned by TakeStderr when stderr is merged into stdout.
	ErrNotCaptured = errors.New("process: stream not captured")
)

// RecoverableError marks errors that a supervisor may retry.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err may go away on retry.
// Errors that do not implement RecoverableError are treated as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// SpawnError describes a failed spawn attempt.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSpawn, e.Binary, e.Err)
}

// Unwrap returns the underlying launch error.
func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSpawn) hold for every SpawnError.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// IsRecoverable reports whether the launch may succeed later.
// A missing binary is recoverable since tools can be installed while the
// panel runs; an invalid command is not.
func (e *SpawnError) IsRecoverable() bool {
	return !errors.Is(e.Err, ErrInvalidCommand)
}
