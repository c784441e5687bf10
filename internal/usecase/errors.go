package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrorTimeout       ErrorCode = "TIMEOUT"
	ErrorRateLimited   ErrorCode = "RATE_LIMITED"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorUnparseable   ErrorCode = "UNPARSEABLE_RESPONSE"
	ErrorNotFound      ErrorCode = "NOT_FOUND"
	ErrorForbidden     ErrorCode = "FORBIDDEN"
	ErrorConflict      ErrorCode = "CONFLICT"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

// Error is the typed failure returned by every service in this package.
// Reason is a stable snake_case detail for logs and metrics; Err carries
// internal diagnostics and must not be shown to end users.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is safe to return to callers.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case ErrorInvalidInput:
		return "The request is invalid."
	case ErrorTimeout:
		return "Generating the minutes took too long. Please try again with a shorter input."
	case ErrorRateLimited:
		return "The minutes service is busy. Please try again in a moment."
	case ErrorConfiguration, ErrorUpstream, ErrorUnparseable:
		return "We could not generate the minutes right now. Please try again later."
	case ErrorNotFound:
		return "The requested minutes were not found."
	case ErrorForbidden:
		return "You do not have access to these minutes."
	case ErrorConflict:
		return "These minutes were changed by another edit. Reload the latest version and try again."
	default:
		return "Something went wrong. Please try again later."
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the ErrorCode carried by err, ErrorInternal for untyped
// errors, and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}
