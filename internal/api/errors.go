package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/radioastro/subarray-core/internal/master"
	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/sbi"
	"github.com/radioastro/subarray-core/internal/schema"
	"github.com/radioastro/subarray-core/internal/subarray"
)

// Error represents a structured error response.
type Error struct {
	Status     int                `json:"status"`
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeDependency   = "dependency_error"
	ErrCodeUnsupported  = "unsupported_version"
	ErrCodeCommandFault = "command_fault"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a command execution error to an HTTP response.
//
// State rejections are conflicts (the command is well-formed but the entity
// cannot accept it right now), payload problems are bad requests, and
// execution failures that drove the entity to FAULT are internal errors.
func writeCommandError(w http.ResponseWriter, err error) {
	var vErr *schema.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, Error{
			Status:     http.StatusBadRequest,
			Code:       ErrCodeValidation,
			Message:    vErr.Error(),
			Violations: vErr.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, observing.ErrInvalidState):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, subarray.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, subarray.ErrInternal):
		writeError(w, http.StatusInternalServerError, ErrCodeCommandFault, err.Error())
	case errors.Is(err, schema.ErrUnsupportedVersion):
		writeError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error())
	case errors.Is(err, sbi.ErrDependency):
		writeError(w, http.StatusBadRequest, ErrCodeDependency, err.Error())
	case errors.Is(err, sbi.ErrUnknownScanType),
		errors.Is(err, sbi.ErrMalformedPayload),
		errors.Is(err, schema.ErrDecode),
		errors.Is(err, observing.ErrUnknownCommand),
		errors.Is(err, master.ErrObservingCommand):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
