package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/droidpanel-core/internal/adb"
	"github.com/nerrad567/droidpanel-core/internal/history"
	"github.com/nerrad567/droidpanel-core/internal/logcat"
	"github.com/nerrad567/droidpanel-core/internal/process"
	"github.com/nerrad567/droidpanel-core/internal/registry"
	"github.com/nerrad567/droidpanel-core/internal/runs"
	"github.com/nerrad567/droidpanel-core/internal/services"
	"github.com/nerrad567/droidpanel-core/internal/supervisor"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "unavailable"

	// Unit lifecycle codes.
	ErrCodeAlreadyRunning = "already_running"
	ErrCodeSpawnFailed    = "spawn_failed"
	ErrCodeReadyTimeout   = "ready_timeout"
	ErrCodeNotReady       = "not_ready"
	ErrCodeShuttingDown   = "shutting_down"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnitError maps a start failure from the unit services to a response.
func (s *Server) writeUnitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, ErrCodeAlreadyRunning, err.Error())
	case errors.Is(err, runs.ErrRunExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, logcat.ErrInvalidRequest),
		errors.Is(err, runs.ErrInvalidRequest),
		errors.Is(err, adb.ErrInvalidLevel),
		errors.Is(err, services.ErrToolNotConfigured):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, runs.ErrBinaryNotAllowed):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrUnknownService), errors.Is(err, history.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, process.ErrSpawn):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeSpawnFailed, err.Error())
	case errors.Is(err, supervisor.ErrReadyTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeReadyTimeout, err.Error())
	case errors.Is(err, supervisor.ErrNotReady):
		writeError(w, http.StatusBadGateway, ErrCodeNotReady, err.Error())
	case errors.Is(err, registry.ErrClosed), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeShuttingDown, err.Error())
	default:
		s.logger.Error("unit operation failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal error")
	}
}
