// Package server carries the error-code wrapper used at the service and
// transport boundary.
package server

import "fmt"

type ErrorCode uint

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrNotFound
	ErrInvalidArgument
	ErrInternalServerError
)

// Error wraps an origin error with a transport-mappable code and a
// user-facing message.
type Error struct {
	orig error
	msg  string
	code ErrorCode
}

func WrapErrorf(orig error, code ErrorCode, format string, a ...interface{}) error {
	return &Error{
		orig: orig,
		code: code,
		msg:  fmt.Sprintf(format, a...),
	}
}

func NewErrorf(code ErrorCode, format string, a ...interface{}) error {
	return WrapErrorf(nil, code, format, a...)
}

func (e *Error) Error() string {
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.orig }

func (e *Error) Code() ErrorCode { return e.code }
