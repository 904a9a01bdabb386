package models

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError.
const (
	CodeGateway         = "GATEWAY_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeValidation      = "VALIDATION_ERROR"
)

// Sentinels for errors.Is. Any AppError with the same code matches.
var (
	ErrGateway         = &AppError{Code: CodeGateway, Message: "gateway error"}
	ErrUnauthenticated = &AppError{Code: CodeUnauthenticated, Message: "not authenticated"}
	ErrForbidden       = &AppError{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound        = &AppError{Code: CodeNotFound, Message: "not found"}
	ErrValidation      = &AppError{Code: CodeValidation, Message: "validation error"}
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewUnauthenticatedError(action string) *AppError {
	return &AppError{
		Code:    CodeUnauthenticated,
		Message: fmt.Sprintf("%s requires a signed-in viewer", action),
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewGatewayError wraps a failed query or mutation against the remote store.
func NewGatewayError(op string, err error) *AppError {
	return &AppError{
		Code:    CodeGateway,
		Message: op + " failed",
		Err:     err,
	}
}

// ErrorCode extracts the AppError code from err, or "" when err is not an AppError.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
