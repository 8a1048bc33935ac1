package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"duetrec/internal/core/domain"
	"duetrec/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())

	cause := errors.New("original error")
	wrapped := WrapError(cause, ErrCodeInternal, "wrapped error", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "original error")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewInvalidInputError("bad layout")
	err.WithContext("field", "layout").WithContext("count", 42)

	assert.Equal(t, "layout", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NewNotFoundError("duet"), ErrCodeNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("x"), ErrCodeConflict, http.StatusConflict},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{"unavailable", NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
	assert.Equal(t, "duet not found", NewNotFoundError("duet").Message)
}

func TestGetAppError(t *testing.T) {
	appErr := NewConflictError("busy")
	wrapped := fmt.Errorf("handler: %w", appErr)

	assert.True(t, IsAppError(wrapped))
	assert.Same(t, appErr, GetAppError(wrapped))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"not found", domain.ErrDuetNotFound, ErrCodeNotFound, http.StatusNotFound},
		{"invalid settings", fmt.Errorf("%w: layout", domain.ErrInvalidSettings), ErrCodeInvalidInput, http.StatusBadRequest},
		{"invalid metadata", domain.ErrInvalidMetadata, ErrCodeInvalidInput, http.StatusBadRequest},
		{"start rejected", domain.ErrStartRejected, ErrCodeConflict, http.StatusConflict},
		{"transition", fmt.Errorf("%w: pause from idle", domain.ErrInvalidTransition), ErrCodeConflict, http.StatusConflict},
		{"settings locked", domain.ErrSettingsLocked, ErrCodeConflict, http.StatusConflict},
		{"artifact not ready", domain.ErrArtifactNotReady, ErrCodeConflict, http.StatusConflict},
		{"device", domain.ErrDeviceUnavailable, ErrCodeDeviceUnavailable, http.StatusServiceUnavailable},
		{"capacity", domain.ErrCapacityExceeded, ErrCodeCapacity, http.StatusServiceUnavailable},
		{"not implemented", domain.ErrNotImplemented, ErrCodeNotImplemented, http.StatusNotImplemented},
		{"breaker open", fmt.Errorf("%w: %w", domain.ErrPublishFailure, circuitbreaker.ErrOpen), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"publish", domain.ErrPublishFailure, ErrCodePublishFailed, http.StatusBadGateway},
		{"unknown", errors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}

	assert.Nil(t, FromDomain(nil))
	existing := NewRateLimitError()
	assert.Same(t, existing, FromDomain(existing))
}
