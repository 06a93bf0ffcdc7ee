// Package apperrors defines RalphX's tagged error taxonomy.
//
// Iteration-level failures are values carried on IterationResult, never
// panics or bare Go errors; only programmer bugs and context cancellation
// propagate as errors up the call stack. Adapter and store code wraps
// lower-level failures in AppError so callers can switch on Code instead of
// string-matching messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a tagged error classification, not a magic string.
type Code string

const (
	// CodeAuthRequired: credential missing, expired, or refresh failed.
	CodeAuthRequired Code = "AUTH_REQUIRED"
	// CodeRateLimited: subprocess output matched a rate-limit pattern.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeTimeout: meaningful-activity or hard wall-clock timeout elapsed.
	CodeTimeout Code = "TIMEOUT"
	// CodeNoSessionFile: the adapter never found a session JSONL file within
	// the discovery window.
	CodeNoSessionFile Code = "NO_SESSION_FILE"
	// CodeStructuredOutputFailed: the final stdout payload didn't parse as
	// the expected structured_output shape.
	CodeStructuredOutputFailed Code = "STRUCTURED_OUTPUT_FAILED"
	// CodeStoreConflict: an optimistic-concurrency check lost a race.
	CodeStoreConflict Code = "STORE_CONFLICT"
	// CodeValidation: caller-supplied data failed shape/range validation.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound: no row/file matched the given identifier.
	CodeNotFound Code = "NOT_FOUND"
	// CodeAlreadyExists: a create collided with an existing unique key.
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	// CodeInternal: an unexpected internal failure with no dedicated code.
	CodeInternal Code = "INTERNAL_ERROR"
)

// AppError is RalphX's tagged error: a Code callers can switch on, a
// human-readable Message, and an optional wrapped Err.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewAuthRequiredError(message string) *AppError {
	return &AppError{Code: CodeAuthRequired, Message: message}
}

func NewRateLimitedError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

func NewTimeoutError(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

func NewNoSessionFileError(message string) *AppError {
	return &AppError{Code: CodeNoSessionFile, Message: message}
}

func NewStructuredOutputFailedError(message string, cause error) *AppError {
	return &AppError{Code: CodeStructuredOutputFailed, Message: message, Err: cause}
}

// NewExitError tags a nonzero subprocess exit code as EXIT_<n>.
func NewExitError(exitCode int, message string) *AppError {
	return &AppError{Code: Code(fmt.Sprintf("EXIT_%d", exitCode)), Message: message}
}

func NewStoreConflictError(message string) *AppError {
	return &AppError{Code: CodeStoreConflict, Message: message}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool      { return Is(err, CodeNotFound) }
func IsValidation(err error) bool    { return Is(err, CodeValidation) }
func IsStoreConflict(err error) bool { return Is(err, CodeStoreConflict) }
func IsRateLimited(err error) bool   { return Is(err, CodeRateLimited) }
func IsAuthRequired(err error) bool  { return Is(err, CodeAuthRequired) }
