package registry

import "errors"

// Domain errors for the registry package.
//
//	if errors.Is(err, registry.ErrAlreadyRunning) {
//	    // report 409 to the caller
//	}
var (
	// ErrAlreadyRunning is returned when a live unit already owns the key.
	ErrAlreadyRunning = errors.New("registry: already running")

	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("registry: closed")

	// ErrInternal wraps a recovered panic inside a registry operation.
	ErrInternal = errors.New("registry: internal error")
)
