// Package apperr defines the error taxonomy returned by the core services.
// Callers branch on the Kind; the Message is safe to show to users and the
// Cause, when present, is only meant for logs.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindDuplicate              Kind = "duplicate"
	KindCapacity               Kind = "capacity"
	KindNotFound               Kind = "not_found"
	KindAlreadyResponded       Kind = "already_responded"
	KindProjectAlreadyAssigned Kind = "project_already_assigned"
	KindNoCapacity             Kind = "no_capacity"
	KindUnauthorized           Kind = "unauthorized"
	KindInternal               Kind = "internal"
)

// Error is the structured error carried across service boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrDuplicate              = &Error{Kind: KindDuplicate}
	ErrCapacity               = &Error{Kind: KindCapacity}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrAlreadyResponded       = &Error{Kind: KindAlreadyResponded}
	ErrProjectAlreadyAssigned = &Error{Kind: KindProjectAlreadyAssigned}
	ErrNoCapacity             = &Error{Kind: KindNoCapacity}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrInternal               = &Error{Kind: KindInternal}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation is shorthand for a KindValidation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// NotFound is shorthand for a KindNotFound error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err. Foreign errors never
// leak their text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
