package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeInvalidParameters represents missing or blank job input
	ErrTypeInvalidParameters ErrorType = "invalid_parameters"
	// ErrTypeHTTP represents a non-200 response from a remote endpoint
	ErrTypeHTTP ErrorType = "http"
	// ErrTypeTransport represents connection, timeout and read errors
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeStorage represents media storage errors
	ErrTypeStorage ErrorType = "storage"
	// ErrTypePersistence represents registry errors
	ErrTypePersistence ErrorType = "persistence"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewInvalidParametersError creates an error for missing job input
func NewInvalidParametersError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeInvalidParameters,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
	}
}

// NewHTTPError creates an error for an unexpected upstream status code.
// StatusCode carries the upstream code, not a mapped one.
func NewHTTPError(message string, code int) *AppError {
	return &AppError{
		Type:       ErrTypeHTTP,
		Message:    fmt.Sprintf("%s with HTTP %d", message, code),
		StatusCode: code,
		Retryable:  false,
	}
}

// NewTransportError creates a new transport error
func NewTransportError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeTransport,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewStorageError creates a new storage error
func NewStorageError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeStorage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewPersistenceError creates a new registry error
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypePersistence,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Retryable:  false,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
	}
}

// AsAppError finds the first AppError in err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsInvalidParameters checks if an error is an invalid parameters error
func IsInvalidParameters(err error) bool {
	return GetErrorType(err) == ErrTypeInvalidParameters
}

// IsHTTPError checks if an error is an upstream status error
func IsHTTPError(err error) bool {
	return GetErrorType(err) == ErrTypeHTTP
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	return GetErrorType(err) == ErrTypeTransport
}

// IsStorageError checks if an error is a storage error
func IsStorageError(err error) bool {
	return GetErrorType(err) == ErrTypeStorage
}

// IsPersistenceError checks if an error is a registry error
func IsPersistenceError(err error) bool {
	return GetErrorType(err) == ErrTypePersistence
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return GetErrorType(err) == ErrTypeNotFound
}
