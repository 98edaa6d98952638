package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeInvalidLogin    ErrorCode = "INVALID_CREDENTIALS"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Reconciliation
	ErrCodeSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrCodeSyncAborted    ErrorCode = "SYNC_ABORTED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// External CRM
	ErrCodeExternalAuth  ErrorCode = "EXTERNAL_AUTH_FAILURE"
	ErrCodeExternalFetch ErrorCode = "EXTERNAL_FETCH_FAILURE"

	// Internal
	ErrCodeInternal    ErrorCode = "INTERNAL_ERROR"
	ErrCodePersistence ErrorCode = "PERSISTENCE_FAILURE"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

// Unauthenticated covers missing, unknown and expired session tokens alike.
func Unauthenticated() *AppError {
	return New(ErrCodeUnauthenticated, "Authentication required")
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidLogin() *AppError {
	return New(ErrCodeInvalidLogin, "Invalid username or password")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func SyncInProgress() *AppError {
	return New(ErrCodeSyncInProgress, "A synchronization is already running")
}

// SyncAborted means the caller's deadline or disconnect stopped a merge.
// Records merged before that stay committed.
func SyncAborted(cause error) *AppError {
	return Wrap(ErrCodeSyncAborted, "Synchronization aborted before completion", cause)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func ExternalAuth(cause error) *AppError {
	return Wrap(ErrCodeExternalAuth, "CRM credential exchange failed", cause)
}

func ExternalFetch(cause error) *AppError {
	return Wrap(ErrCodeExternalFetch, "CRM record query failed", cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Persistence(cause error) *AppError {
	return Wrap(ErrCodePersistence, "Storage unavailable", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
