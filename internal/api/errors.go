package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/balancer-core/internal/auth"
	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/validation"
)

// Error is the JSON body of every error response.
type Error struct {
	Status    int                     `json:"status"`
	Code      string                  `json:"code"`
	Reason    string                  `json:"error"`
	Message   string                  `json:"message"`
	Path      string                  `json:"path"`
	Timestamp string                  `json:"timestamp"`
	Errors    []validation.FieldError `json:"errors,omitempty"`
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
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, newError(r, status, code, message))
}

func newError(r *http.Request, status int, code, message string) Error {
	return Error{
		Status:    status,
		Code:      code,
		Reason:    http.StatusText(status),
		Message:   message,
		Path:      r.URL.Path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeValidationError writes a 400 listing every rejected field.
func writeValidationError(w http.ResponseWriter, r *http.Request, verr *validation.Error) {
	body := newError(r, http.StatusBadRequest, ErrCodeValidation, "request validation failed")
	body.Errors = verr.Fields
	writeJSON(w, http.StatusBadRequest, body)
}

// writeDomainError maps a domain error onto its HTTP status.
// Anything unrecognised is logged and reported as a 500 with fallback as
// the message, so internal details never reach the client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, r, verr)
	case errors.Is(err, validation.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, r, "device not found")
	case errors.Is(err, device.ErrForbidden), errors.Is(err, auth.ErrForbidden):
		writeForbidden(w, r, "access denied")
	case errors.Is(err, device.ErrConflict):
		writeError(w, r, http.StatusConflict, ErrCodeConflict, conflictMessage(err))
	case errors.Is(err, auth.ErrUsernameExists):
		writeError(w, r, http.StatusConflict, ErrCodeConflict, "an account with this email already exists")
	default:
		s.logger.Error(fallback,
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, r, fallback)
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, device.ErrPrefixInUse):
		return "mqtt prefix already in use"
	case errors.Is(err, device.ErrMonitorExists):
		// The wrapped message names the monitor kind.
		return err.Error()
	default:
		return "conflict"
	}
}
