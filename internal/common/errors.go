package common

import (
	"errors"
	"net/http"
)

// Error codes used across the checkout core. They map one-to-one onto the
// HTTP layer but are also meaningful for in-process callers.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NotFound builds a NOT_FOUND error for the named entity.
func NotFound(entity string, err error) *AppError {
	return NewAppError(CodeNotFound, entity+" not found", http.StatusNotFound, err)
}

// Upstream wraps a provider or persistence failure. Callers may safely retry.
func Upstream(message string, err error) *AppError {
	return NewAppError(CodeUpstreamUnavailable, message, http.StatusBadGateway, err)
}

// Conflict reports an unresolvable business-rule conflict.
func Conflict(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// Validation reports malformed input; details carries the full violation list.
func Validation(message string, details any) *AppError {
	return &AppError{Code: CodeValidationFailed, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// CodeOf returns the AppError code, or INTERNAL for plain errors.
func CodeOf(err error) string {
	var target *AppError
	if errors.As(err, &target) {
		return target.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the error represents a transient upstream
// failure that left no local state behind.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeUpstreamUnavailable
}
