package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Status     int      `json:"status"`
	Violations []string `json:"violations,omitempty"`
	Err        error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Violations) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Violations, "; "))
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrInvalidState = New("INVALID_STATE", http.StatusConflict, "operation not valid for current status")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// NewValidationFailed builds a VALIDATION_ERROR carrying the full list of
// human-readable rule violations so callers can render every problem at once.
func NewValidationFailed(message string, violations []string) *Error {
	e := Clone(ErrValidation, message)
	e.Violations = append([]string(nil), violations...)
	return e
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
