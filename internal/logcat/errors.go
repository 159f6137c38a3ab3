package logcat

import "errors"

// Domain errors for the logcat package.
var (
	// ErrInvalidRequest is returned for a start request without a device.
	ErrInvalidRequest = errors.New("logcat: invalid request")
)
