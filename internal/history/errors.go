package history

import "errors"

var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("history: not found")

	// ErrInvalidRun is returned when a run lacks an id or binary.
	ErrInvalidRun = errors.New("history: invalid run")
)
