// Package apperr defines the error taxonomy surfaced by the API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a stable error category. Codes are part of the API contract:
// clients branch on them, so they never change meaning.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeRateLimit    Code = "rate_limit"
	CodeOffline      Code = "offline"
)

// Error is an API-visible error with a stable code and human-readable message.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that records an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps the error code to an HTTP status.
func (e *Error) Status() int {
	switch e.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an *Error from err, or wraps unknown errors as offline.
// Backend and model failures that were not classified earlier all surface
// as offline per the taxonomy.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeOffline, "service is temporarily unavailable", err)
}
