// Package apperr defines the error kinds of spec.md §7 as sentinel-wrapped
// errors carrying the machine-readable code and HTTP status that the
// dispatcher's and admin surface's writeError helpers map them to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the documented error kinds.
type Kind string

const (
	KindAuth            Kind = "auth_error"
	KindBadRequest      Kind = "bad_request"
	KindPoolEmpty       Kind = "no_tokens_available"
	KindUpstream        Kind = "upstream_error"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindTokenAuthFailed Kind = "token_auth_failed"
	KindConfig          Kind = "config_error"
	KindRefresher       Kind = "refresher_error"
)

var statusByKind = map[Kind]int{
	KindAuth:            http.StatusUnauthorized,
	KindBadRequest:       http.StatusBadRequest,
	KindPoolEmpty:       http.StatusServiceUnavailable,
	KindUpstream:        http.StatusBadGateway,
	KindUpstreamTimeout: http.StatusGatewayTimeout,
	KindTokenAuthFailed: http.StatusInternalServerError, // never surfaced to clients
	KindConfig:          http.StatusInternalServerError, // fatal at startup, not served
	KindRefresher:       http.StatusInternalServerError, // never surfaced on chat requests
}

// Error is the concrete error type carrying a Kind, a message and an optional
// wrapped error; Status derives the HTTP status from the Kind.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Status returns the HTTP status code the dispatcher should respond with.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}

	return http.StatusInternalServerError
}

func new_(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

func AuthError(format string, args ...any) *Error { return new_(KindAuth, format, args...) }

func BadRequest(format string, args ...any) *Error { return new_(KindBadRequest, format, args...) }

func PoolEmpty() *Error {
	return new_(KindPoolEmpty, "no selectable tokens in pool")
}

func UpstreamError(err error, format string, args ...any) *Error {
	return wrap(KindUpstream, err, format, args...)
}

func UpstreamTimeout(err error) *Error {
	return wrap(KindUpstreamTimeout, err, "upstream request timed out")
}

// TokenAuthFailed is an internal signal from the upstream client to the
// dispatcher; it must never escape to an HTTP response.
func TokenAuthFailed(err error, format string, args ...any) *Error {
	return wrap(KindTokenAuthFailed, err, format, args...)
}

func ConfigError(format string, args ...any) *Error { return new_(KindConfig, format, args...) }

func RefresherError(err error, format string, args ...any) *Error {
	return wrap(KindRefresher, err, format, args...)
}

// Is reports whether err (or any error it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// As extracts the *Error from err if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)

	return e, ok
}
