package runs

import "errors"

// Domain errors for the runs package.
var (
	// ErrInvalidRequest is returned for a malformed run request.
	ErrInvalidRequest = errors.New("runs: invalid request")

	// ErrBinaryNotAllowed is returned when the requested executable is
	// neither a configured tool nor in the allow list.
	ErrBinaryNotAllowed = errors.New("runs: binary not allowed")

	// ErrRunExists is returned when a run id names a finished run in the
	// history. Run ids are never reused.
	ErrRunExists = errors.New("runs: run id already used")
)
