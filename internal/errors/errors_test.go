package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Principal not found")
		assert.Equal(t, "NOT_FOUND: Principal not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodePersistence, "Storage unavailable", cause)
		assert.Contains(t, err.Error(), "PERSISTENCE_FAILURE")
		assert.Contains(t, err.Error(), "Storage unavailable")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "password", "reason": "too short"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthenticated", func() *AppError { return Unauthenticated() }, ErrCodeUnauthenticated},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidLogin", func() *AppError { return InvalidLogin() }, ErrCodeInvalidLogin},
		{"NotFound", func() *AppError { return NotFound("Principal") }, ErrCodeNotFound},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("active", "must be boolean") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("username") }, ErrCodeMissingRequired},
		{"SyncInProgress", func() *AppError { return SyncInProgress() }, ErrCodeSyncInProgress},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestPersistence(t *testing.T) {
	t.Run("wraps storage error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Persistence(cause)
		assert.Equal(t, ErrCodePersistence, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestExternal(t *testing.T) {
	t.Run("wraps credential exchange error", func(t *testing.T) {
		cause := errors.New("invalid_client")
		err := ExternalAuth(cause)
		assert.Equal(t, ErrCodeExternalAuth, err.Code)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("wraps record query error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := ExternalFetch(cause)
		assert.Equal(t, ErrCodeExternalFetch, err.Code)
		assert.NotContains(t, err.Message, "timeout")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})

	t.Run("returns true for fmt-wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("sync: %w", ExternalFetch(errors.New("boom")))
		assert.True(t, IsAppError(wrapped))
		assert.Equal(t, ErrCodeExternalFetch, GetCode(wrapped))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "Principal not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.Equal(t, ErrCodeNotFound, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("Principal")
	assert.Equal(t, "Principal not found", err.Message)
}
