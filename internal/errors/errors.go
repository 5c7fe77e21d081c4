// Package errors provides coded errors for the procurement workflow service.
// Error codes are string-based and drive the HTTP status mapping in the
// handler layer.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates a malformed or out-of-range request field.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeNotFound indicates a requested resource does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeUnauthorized indicates the caller is not the party whose turn it is.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeConflict indicates a state conflict that prevents the operation.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeStaleCase indicates the optimistic phase guard lost a race:
	// the case left the expected phase before the update applied.
	ErrCodeStaleCase ErrorCode = "STALE_CASE"

	// ErrCodeInvalidChain indicates a tier assignment produced an unusable
	// escalation chain (configuration error, never defaulted to approval).
	ErrCodeInvalidChain ErrorCode = "INVALID_CHAIN"

	// ErrCodeCascadeFailed indicates the downstream stage insert failed;
	// the whole transaction, including the source case update, is rolled back.
	ErrCodeCascadeFailed ErrorCode = "CASCADE_FAILED"

	// ErrCodeInternal indicates an unexpected infrastructure failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with no cause.
func New(code ErrorCode, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound creates a NOT_FOUND error for a resource/id pair.
func NotFound(resource, id string) error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resource, id),
	}
}

// InvalidInput creates an INVALID_INPUT error for a named field.
func InvalidInput(field, message string) error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("%s: %s", field, message),
	}
}

// Unauthorized creates an UNAUTHORIZED error.
func Unauthorized(message string) error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// StaleCase creates a STALE_CASE error.
func StaleCase(message string) error {
	return &Error{Code: ErrCodeStaleCase, Message: message}
}

// InvalidChain creates an INVALID_CHAIN error.
func InvalidChain(message string) error {
	return &Error{Code: ErrCodeInvalidChain, Message: message}
}

// CascadeFailed wraps a downstream insert failure.
func CascadeFailed(err error, message string) error {
	return &Error{Code: ErrCodeCascadeFailed, Message: message, Err: err}
}

// CodeOf extracts the error code, walking the wrap chain.
// Unclassified errors report ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}
