// Package errors provides the application error type shared across service
// and transport layers. Errors carry an HTTP status code, a stable machine
// readable reason, a human readable message and optional metadata.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// UnknownReason is reported for errors that did not originate here.
const UnknownReason = "UNKNOWN"

type ApplicationError struct {
	Code     int               `json:"code"`
	Reason   string            `json:"reason"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`

	cause error
}

func New(code int, reason, message string) *ApplicationError {
	return &ApplicationError{
		Code:    code,
		Reason:  reason,
		Message: message,
	}
}

func Newf(code int, reason, format string, args ...any) *ApplicationError {
	return New(code, reason, fmt.Sprintf(format, args...))
}

func (e *ApplicationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error: code = %d reason = %s message = %s cause = %v", e.Code, e.Reason, e.Message, e.cause)
	}
	return fmt.Sprintf("error: code = %d reason = %s message = %s", e.Code, e.Reason, e.Message)
}

func (e *ApplicationError) Unwrap() error { return e.cause }

// Is matches on code and reason so sentinel comparisons survive WithCause /
// WithMetadata cloning.
func (e *ApplicationError) Is(target error) bool {
	var ae *ApplicationError
	if errors.As(target, &ae) {
		return ae.Code == e.Code && ae.Reason == e.Reason
	}
	return false
}

// WithCause returns a copy carrying err as the wrapped cause.
func (e *ApplicationError) WithCause(err error) *ApplicationError {
	cp := e.clone()
	cp.cause = err
	return cp
}

// WithMetadata returns a copy with md merged over existing metadata.
func (e *ApplicationError) WithMetadata(md map[string]string) *ApplicationError {
	cp := e.clone()
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]string, len(md))
	}
	for k, v := range md {
		cp.Metadata[k] = v
	}
	return cp
}

func (e *ApplicationError) clone() *ApplicationError {
	cp := &ApplicationError{
		Code:    e.Code,
		Reason:  e.Reason,
		Message: e.Message,
		cause:   e.cause,
	}
	if len(e.Metadata) > 0 {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func BadRequest(reason, message string) *ApplicationError {
	return New(http.StatusBadRequest, reason, message)
}

func Unauthorized(reason, message string) *ApplicationError {
	return New(http.StatusUnauthorized, reason, message)
}

func Forbidden(reason, message string) *ApplicationError {
	return New(http.StatusForbidden, reason, message)
}

func NotFound(reason, message string) *ApplicationError {
	return New(http.StatusNotFound, reason, message)
}

func Conflict(reason, message string) *ApplicationError {
	return New(http.StatusConflict, reason, message)
}

func TooManyRequests(reason, message string) *ApplicationError {
	return New(http.StatusTooManyRequests, reason, message)
}

func InternalServer(reason, message string) *ApplicationError {
	return New(http.StatusInternalServerError, reason, message)
}

func ServiceUnavailable(reason, message string) *ApplicationError {
	return New(http.StatusServiceUnavailable, reason, message)
}

func GatewayTimeout(reason, message string) *ApplicationError {
	return New(http.StatusGatewayTimeout, reason, message)
}

// Code extracts the HTTP status from err, defaulting to 500.
func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromError(err).Code
}

// Reason extracts the machine readable reason from err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Reason
}

// FromError converts any error into an *ApplicationError, wrapping foreign
// errors as 500/UNKNOWN.
func FromError(err error) *ApplicationError {
	if err == nil {
		return nil
	}
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, UnknownReason, err.Error()).WithCause(err)
}
