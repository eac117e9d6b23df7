package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Services wrap these so handlers can map errors to HTTP
// status codes with errors.Is without inspecting message text.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("configuration missing")
	ErrConflict      = errors.New("concurrency conflict")
	ErrState         = errors.New("invalid state")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
)

// Error carries a kind sentinel, a message and, for validation failures,
// the full list of violated rules.
type Error struct {
	kind       error
	message    string
	violations []string
}

func (e *Error) Error() string {
	if len(e.violations) > 0 {
		return e.message + ": " + strings.Join(e.violations, "; ")
	}
	return e.message
}

func (e *Error) Unwrap() error {
	return e.kind
}

// Violations returns the violated rules attached to a validation error,
// or nil if err carries none.
func Violations(err error) []string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.violations
	}
	return nil
}

// Validation reports invalid input. All violated rules are surfaced at once
// so the caller can fix everything in one round trip.
func Validation(violations ...string) error {
	return &Error{kind: ErrValidation, message: "validation failed", violations: violations}
}

func Configurationf(format string, args ...interface{}) error {
	return &Error{kind: ErrConfiguration, message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...interface{}) error {
	return &Error{kind: ErrConflict, message: fmt.Sprintf(format, args...)}
}

func Statef(format string, args ...interface{}) error {
	return &Error{kind: ErrState, message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) error {
	return &Error{kind: ErrNotFound, message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...interface{}) error {
	return &Error{kind: ErrUnauthorized, message: fmt.Sprintf(format, args...)}
}
