package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the agent server.
type ErrorCode string

// Request error codes
const (
	ErrMalformedBody     ErrorCode = "MALFORMED_BODY"
	ErrInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
)

// Execution error codes
const (
	ErrServerMisconfigured ErrorCode = "SERVER_MISCONFIGURED"
	ErrAlreadyRegistered   ErrorCode = "ALREADY_REGISTERED"
	ErrCallbackFailed      ErrorCode = "CALLBACK_ERROR"
	ErrUnsupportedResult   ErrorCode = "UNSUPPORTED_RESULT"
	ErrInvalidResult       ErrorCode = "INVALID_RESULT"
)

// Tracing and infrastructure error codes
const (
	ErrTraceNotFound      ErrorCode = "TRACE_NOT_FOUND"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	AgentType  string    `json:"agent_type,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Detail())
}

// Detail returns the message with the cause appended, unless the message
// already is the cause text. This is what clients see.
func (e *Error) Detail() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgentType records the agent type the error was raised under.
func (e *Error) WithAgentType(agentType string) *Error {
	e.AgentType = agentType
	return e
}

// Status returns the HTTP status for the error, falling back to the code mapping.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return StatusForCode(e.Code)
}

// StatusForCode maps an error code to its HTTP status.
func StatusForCode(code ErrorCode) int {
	switch code {
	case ErrMalformedBody, ErrInvalidParameters, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrTraceNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any error in the chain carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
