package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the server.
type ErrorCode string

// Pipeline error codes
const (
	ErrInput         ErrorCode = "INPUT_ERROR"
	ErrTranscription ErrorCode = "TRANSCRIPTION_ERROR"
	ErrGeneration    ErrorCode = "GENERATION_ERROR"
	ErrSynthesis     ErrorCode = "SYNTHESIS_ERROR"
	ErrRender        ErrorCode = "RENDER_ERROR"
	ErrResourceBusy  ErrorCode = "RESOURCE_BUSY"
	ErrSessionBusy   ErrorCode = "SESSION_BUSY"
	ErrSessionClosed ErrorCode = "SESSION_CLOSED"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// HTTP surface error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WrapError wraps err with a code unless it already carries one.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// AsError extracts *Error from the error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain has the given code.
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

// ============================================================
// 常用错误构造
// ============================================================

// NewInputError 输入格式错误（空音频、非法 JSON 等）
func NewInputError(message string) *Error {
	return NewError(ErrInput, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewResourceBusyError 渲染队列或工作池已满
func NewResourceBusyError(message string) *Error {
	return NewError(ErrResourceBusy, message).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}

// NewInternalError 编程错误类，不应出现在正常流程中
func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}

// NewNotFoundError 资源不存在
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message).WithHTTPStatus(http.StatusNotFound)
}
