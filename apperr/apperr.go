// Package apperr defines the coded errors that cross component boundaries.
//
// Synchronous misuse (bad input, wrong session state) is returned to the
// caller as an *Error; asynchronous subprocess failures are carried the
// same way and turned into runner.error / session.status events by the relay.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	// CodeValidation covers malformed or missing input fields.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound covers unknown session or provider ids.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidState covers operations not allowed in the current session status.
	CodeInvalidState Code = "INVALID_STATE"
	// CodePersistence covers unreadable or unwritable files.
	CodePersistence Code = "PERSISTENCE"
	// CodeEncryption covers token encryption or decryption failures.
	CodeEncryption Code = "ENCRYPTION"
	// CodeSpawnFailed covers a missing or unstartable agent executable.
	CodeSpawnFailed Code = "SPAWN_FAILED"
	// CodeRuntimeFailed covers an agent turn that ended without success.
	CodeRuntimeFailed Code = "RUNTIME_FAILED"
	// CodeInternal is everything else.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}

// GetCode returns the code of the first *Error in err's chain, or "" if none.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
