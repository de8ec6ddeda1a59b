package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure the core produces wraps exactly one of
// these sentinels so callers can classify with errors.Is without
// string matching.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrConflict          = errors.New("conflict")
)

// Error carries a kind sentinel plus a human-readable message.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the kind sentinel for errors.Is matching.
func (e *Error) Unwrap() error { return e.kind }

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// InvalidInputf builds an InvalidInput error.
func InvalidInputf(format string, args ...any) error {
	return &Error{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// Unauthorizedf builds an Unauthorized error.
func Unauthorizedf(format string, args ...any) error {
	return &Error{kind: ErrUnauthorized, msg: fmt.Sprintf(format, args...)}
}

// ResourceExhaustedf builds a ResourceExhausted error.
func ResourceExhaustedf(format string, args ...any) error {
	return &Error{kind: ErrResourceExhausted, msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...any) error {
	return &Error{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}
