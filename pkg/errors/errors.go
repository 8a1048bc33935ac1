package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"duetrec/internal/core/domain"
	"duetrec/pkg/circuitbreaker"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeDeviceUnavailable  ErrorCode = "DEVICE_UNAVAILABLE"
	ErrCodeCapacity           ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeNotImplemented     ErrorCode = "NOT_IMPLEMENTED"
	ErrCodePublishFailed      ErrorCode = "PUBLISH_FAILED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromDomain maps recorder and publish errors onto application errors.
// Errors that already carry an AppError are returned unchanged.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrDuetNotFound):
		return WrapError(err, ErrCodeNotFound, "duet not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrArtifactNotReady):
		return WrapError(err, ErrCodeConflict, "artifact not ready", http.StatusConflict)
	case stderrors.Is(err, domain.ErrInvalidSettings),
		stderrors.Is(err, domain.ErrInvalidMetadata):
		return WrapError(err, ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrStartRejected),
		stderrors.Is(err, domain.ErrInvalidTransition),
		stderrors.Is(err, domain.ErrSettingsLocked),
		stderrors.Is(err, domain.ErrPlaybackLocked):
		return WrapError(err, ErrCodeConflict, err.Error(), http.StatusConflict)
	case stderrors.Is(err, domain.ErrDeviceUnavailable):
		return WrapError(err, ErrCodeDeviceUnavailable, "camera or microphone unavailable", http.StatusServiceUnavailable)
	case stderrors.Is(err, domain.ErrCapacityExceeded):
		return WrapError(err, ErrCodeCapacity, "too many open duets, try again later", http.StatusServiceUnavailable)
	case stderrors.Is(err, domain.ErrNotImplemented):
		return WrapError(err, ErrCodeNotImplemented, err.Error(), http.StatusNotImplemented)
	case stderrors.Is(err, circuitbreaker.ErrOpen):
		return WrapError(err, ErrCodeServiceUnavailable, "artifact storage temporarily unavailable", http.StatusServiceUnavailable)
	case stderrors.Is(err, domain.ErrPublishFailure):
		return WrapError(err, ErrCodePublishFailed, "publishing failed, please try again", http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrRecorderClosed):
		return WrapError(err, ErrCodeNotFound, "duet closed", http.StatusGone)
	case stderrors.Is(err, domain.ErrEncodingFailure):
		return WrapError(err, ErrCodeInternal, "encoding failure", http.StatusInternalServerError)
	default:
		return WrapError(err, ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
}
