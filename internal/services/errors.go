package services

import "errors"

// Domain errors for the services package.
var (
	// ErrUnknownService is returned for a name with no definition.
	ErrUnknownService = errors.New("services: unknown service")

	// ErrToolNotConfigured is returned when the service's tool has no path.
	ErrToolNotConfigured = errors.New("services: tool not configured")
)
