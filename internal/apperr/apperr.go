package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine readable error class.
type Code string

const (
	CodeInvalidConfiguration    Code = "invalid_configuration"
	CodeMissingParameters       Code = "missing_parameters"
	CodeInvalidStatusTransition Code = "invalid_status_transition"
	CodeNotFound                Code = "not_found"
	CodeForbidden               Code = "forbidden"
	CodeUnauthorized            Code = "unauthorized"
	CodeInvalidInput            Code = "invalid_input"
	CodePanelRequestFailed      Code = "panel_request_failed"
	CodePaymentFailed           Code = "payment_failed"
	CodeStartTimeout            Code = "start_timeout"
	CodeInternal                Code = "internal"
)

// Error carries a code, a client-safe message and optional diagnostic metadata.
type Error struct {
	Code    Code
	Message string
	Err     error
	Meta    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithMeta attaches a diagnostic key and returns the same error.
func (e *Error) WithMeta(k string, v any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[k] = v
	return e
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{Code: code, Message: message, Err: err}
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidConfiguration, CodeMissingParameters, CodeInvalidStatusTransition, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodePanelRequestFailed, CodePaymentFailed:
		return http.StatusBadGateway
	case CodeStartTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
