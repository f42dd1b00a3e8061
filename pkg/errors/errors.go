package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents transport-level error codes surfaced to the session
type ErrorCode string

const (
	ErrCodeBusy         ErrorCode = "BUSY"
	ErrCodeCallNotFound ErrorCode = "CALL_NOT_FOUND"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeConnection   ErrorCode = "CONNECTION"
	ErrCodeProtocol     ErrorCode = "PROTOCOL"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// JSON-RPC error codes the call-control server uses
const (
	RPCCodeBusy     = 486
	RPCCodeNotFound = 404
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	RPCCode int
	Cause   error
	Context map[string]interface{}
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
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// FromRPC maps a JSON-RPC error object to an application error
func FromRPC(rpcCode int, message string) *AppError {
	code := ErrCodeProtocol
	switch rpcCode {
	case RPCCodeBusy:
		code = ErrCodeBusy
	case RPCCodeNotFound:
		code = ErrCodeCallNotFound
	}
	e := NewAppError(code, message)
	e.RPCCode = rpcCode
	return e
}

func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrCodeTimeout, message)
}

func NewConnectionError(err error, message string) *AppError {
	return WrapError(err, ErrCodeConnection, message)
}

func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether an AppError with the given code is in the chain
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
