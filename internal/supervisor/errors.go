package supervisor

import "errors"

// Domain errors for the supervisor package.
var (
	// ErrInvalidConfig is returned by New for incomplete configurations.
	ErrInvalidConfig = errors.New("supervisor: invalid config")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("supervisor: already started")

	// ErrStopped is returned when Start is called on a stopped unit.
	ErrStopped = errors.New("supervisor: stopped")

	// ErrTargetNotFound is returned by a synchronous start whose target
	// could not be resolved.
	ErrTargetNotFound = errors.New("supervisor: target not found")

	// ErrReadyTimeout is returned when the ready signal did not appear in
	// time. The process has been terminated when it is returned.
	ErrReadyTimeout = errors.New("supervisor: timed out waiting for ready signal")

	// ErrInternal wraps a panic recovered inside the supervisor loop.
	ErrInternal = errors.New("supervisor: internal error")

	// ErrNotReady is returned when the unit ended before its ready signal.
	ErrNotReady = errors.New("supervisor: unit ended before ready signal")
)
