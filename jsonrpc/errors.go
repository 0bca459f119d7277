package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reserved error codes. The -32000 to -32099 range is reserved for
// implementation-defined server errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeUnauthorized     = 1
	CodeActionNotAllowed = 2

	CodeValidationError = -32001
	CodeObjectNotFound  = -32002
	CodeNothingToDelete = -32003
)

// messageSeparator joins multiple error messages into one.
const messageSeparator = "| "

// Error is a JSON-RPC error object. It is also a Go error, so procedures and
// middleware can return it to select an explicit code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "jsonrpc: error: <nil>"
	}
	return e.Message
}

// ErrorCode implements ErrorCoder.
func (e *Error) ErrorCode() int {
	return e.Code
}

// NewError creates an Error with an explicit code.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with an explicit code and a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCoder is implemented by errors that carry an explicit JSON-RPC code.
type ErrorCoder interface {
	ErrorCode() int
}

// ErrorClass maps a family of errors to a code. Match reports whether err
// belongs to the class.
type ErrorClass struct {
	Match func(err error) bool
	Code  int
}

// ClassOf returns an ErrorClass matching any error in the chain that has
// type T.
func ClassOf[T error](code int) ErrorClass {
	return ErrorClass{
		Match: func(err error) bool {
			var target T
			return errors.As(err, &target)
		},
		Code: code,
	}
}

// ClassIs returns an ErrorClass matching errors for which errors.Is(err, target)
// holds.
func ClassIs(target error, code int) ErrorClass {
	return ErrorClass{
		Match: func(err error) bool { return errors.Is(err, target) },
		Code:  code,
	}
}

// ResolveError derives a code and message for err. An explicit code on the
// error wins; otherwise the first matching class in table is used; otherwise
// CodeInternalError. It never fails.
func ResolveError(err error, table []ErrorClass) (int, string) {
	if err == nil {
		return CodeInternalError, "unknown error"
	}

	var coder ErrorCoder
	if errors.As(err, &coder) && !isNilCoder(coder) {
		return coder.ErrorCode(), err.Error()
	}

	for _, class := range table {
		if class.Match != nil && class.Match(err) {
			return class.Code, err.Error()
		}
	}
	return CodeInternalError, err.Error()
}

func isNilCoder(c ErrorCoder) bool {
	e, ok := c.(*Error)
	return ok && e == nil
}

// ErrorResponse builds an error envelope. Multiple messages are joined into a
// single string. The id is attached only when it is not falsy.
func ErrorResponse(id any, code int, messages ...string) *Response {
	resp := &Response{
		Error: &Error{
			Code:    code,
			Message: strings.Join(messages, messageSeparator),
		},
	}
	if !isFalsy(id) {
		resp.ID = id
	}
	return resp
}

// isFalsy reports whether id counts as "no id" for error envelopes.
func isFalsy(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case float64:
		return v == 0
	case int:
		return v == 0
	case int64:
		return v == 0
	}
	return false
}
