package model

import (
	"errors"
	"fmt"
)

// Error codes defined by the HTTP API contract.
const (
	CodeBadRequest   = "E_BAD_REQUEST"
	CodeUnauthorized = "E_UNAUTHORIZED"
	CodeForbidden    = "E_FORBIDDEN"
	CodeNotFound     = "E_NOT_FOUND"
	CodeInternal     = "E_INTERNAL"
)

// Error carries an API error code, a message safe to show to clients, and
// an inner error that is only logged.
type Error struct {
	Code    string
	Message string
	Inner   error
}

func NewError(code, message string, inner error) *Error {
	return &Error{Code: code, Message: message, Inner: inner}
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s %s: %v", e.Code, e.Message, e.Inner)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// AsError returns the *Error in err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// ErrorCode returns the code of err, or CodeInternal when err carries none.
func ErrorCode(err error) string {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return CodeInternal
}
