package securechat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Server-side errors (REST responses)
	ErrorUnauthorized
	ErrorBadRequest
	ErrorNotFound
	ErrorForbidden
	ErrorInternalServer

	// Client-side errors
	ErrorValidation
	ErrorConnection
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorNoCredentials
	ErrorSerialization
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorNotFound:
		return "not_found"
	case ErrorForbidden:
		return "forbidden"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorValidation:
		return "validation_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorNoCredentials:
		return "no_credentials"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// Classify maps any error returned by the SDK to an ErrorCode.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrorUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, rest.ErrUnauthorized) {
		return ErrorUnauthorized
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return ErrorUnauthorized
		case apiErr.StatusCode == http.StatusForbidden:
			return ErrorForbidden
		case apiErr.StatusCode == http.StatusNotFound:
			return ErrorNotFound
		case apiErr.StatusCode >= 500:
			return ErrorInternalServer
		default:
			return ErrorBadRequest
		}
	}
	return ErrorConnection
}

// IsValidationError reports input rejected before any request was made.
func IsValidationError(err error) bool {
	return err != nil && Classify(err) == ErrorValidation
}

// IsAuthError reports an authentication failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	c := Classify(err)
	return c == ErrorUnauthorized || c == ErrorNoCredentials
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	c := Classify(err)
	return c == ErrorConnection || c == ErrorNotConnected || c == ErrorTimeout
}
