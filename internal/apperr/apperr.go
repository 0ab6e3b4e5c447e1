// Package apperr defines the typed errors that services return and that the
// HTTP layer turns into the JSON error envelope. Every handled error carries a
// Kind (which decides the status code), a stable message and an optional list
// of detail strings.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooManyRequests
)

// Status maps the kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a handled application error.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error // optional cause, reachable through errors.Is/As
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// New builds an error of the given kind.
func New(kind Kind, msg string, details ...string) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func Validation(msg string, details ...string) *Error {
	return New(KindValidation, msg, details...)
}

func Unauthorized(msg string, details ...string) *Error {
	return New(KindUnauthorized, msg, details...)
}

func Forbidden(msg string, details ...string) *Error {
	return New(KindForbidden, msg, details...)
}

func NotFound(msg string, details ...string) *Error {
	return New(KindNotFound, msg, details...)
}

func Conflict(msg string, details ...string) *Error {
	return New(KindConflict, msg, details...)
}

func TooManyRequests(msg string, details ...string) *Error {
	return New(KindTooManyRequests, msg, details...)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf reports the kind of err; errors that are not *Error are internal.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}
