package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a batchgate error.
type ErrorCode string

const (
	CodeIncompleteJobDescription ErrorCode = "INCOMPLETE_JOB_DESCRIPTION"
	CodeInvalidJobDescription    ErrorCode = "INVALID_JOB_DESCRIPTION"
	CodeBadParameter             ErrorCode = "BAD_PARAMETER"
	CodeNoSuchQueue              ErrorCode = "NO_SUCH_QUEUE"
	CodeNoSuchJob                ErrorCode = "NO_SUCH_JOB"
	CodeJobCanceled              ErrorCode = "JOB_CANCELED"
	CodeSchedulerFailure         ErrorCode = "SCHEDULER_FAILURE"
	CodeCommandFailed            ErrorCode = "COMMAND_FAILED"
	CodeUnsupportedOperation     ErrorCode = "UNSUPPORTED_OPERATION"
	CodeEngineStopped            ErrorCode = "ENGINE_STOPPED"
	CodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrIncompleteJobDescription = &Error{Code: CodeIncompleteJobDescription}
	ErrInvalidJobDescription    = &Error{Code: CodeInvalidJobDescription}
	ErrBadParameter             = &Error{Code: CodeBadParameter}
	ErrNoSuchQueue              = &Error{Code: CodeNoSuchQueue}
	ErrNoSuchJob                = &Error{Code: CodeNoSuchJob}
	ErrJobCanceled              = &Error{Code: CodeJobCanceled}
	ErrSchedulerFailure         = &Error{Code: CodeSchedulerFailure}
	ErrCommandFailed            = &Error{Code: CodeCommandFailed}
	ErrUnsupportedOperation     = &Error{Code: CodeUnsupportedOperation}
	ErrEngineStopped            = &Error{Code: CodeEngineStopped}
)

// Error is the error type returned by schedulers, queues and parsers.
// Adaptor names the backend that raised it ("local", "gridengine", ...).
type Error struct {
	Code    ErrorCode
	Adaptor string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Adaptor != "" {
		msg = e.Adaptor + " adaptor: " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Adaptor == ""
}

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, adaptor, format string, args ...any) *Error {
	return &Error{Code: code, Adaptor: adaptor, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error with a formatted message around cause.
func WrapError(code ErrorCode, adaptor string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Adaptor: adaptor, Message: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// APIError is a structured error returned by the HTTP API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError converts err into an APIError, keeping its code when it has one.
func NewAPIError(err error) *APIError {
	code := CodeOf(err)
	if code == "" {
		code = CodeInternal
	}
	return &APIError{Code: code, Message: err.Error()}
}
