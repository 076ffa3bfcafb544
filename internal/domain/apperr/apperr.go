// Package apperr defines the closed set of failure kinds shared by every
// domain package. Transport layers map a Kind to their own status codes; the
// domain never deals in HTTP codes or message matching.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation marks missing or malformed input.
	KindValidation Kind = "validation"
	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict marks a uniqueness or state conflict.
	KindConflict Kind = "conflict"
	// KindUnauthorized marks a request without a valid identity.
	KindUnauthorized Kind = "unauthorized"
	// KindForbidden marks an identity lacking permission for the operation.
	KindForbidden Kind = "forbidden"
	// KindInternal marks everything else.
	KindInternal Kind = "internal"
)

// Kinded is implemented by errors that know their own Kind. Domain error
// structs implement it so callers can classify them with KindOf.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a generic tagged error carrying structured context.
type Error struct {
	K       Kind
	Message string
	// Fields holds structured detail exposed to clients alongside Message.
	Fields map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Kind implements Kinded.
func (e *Error) Kind() Kind { return e.K }

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Detail returns the client-visible structured fields.
func (e *Error) Detail() map[string]any { return e.Fields }

// New returns an *Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{K: k, Message: msg}
}

// Validation returns a validation error with optional structured fields.
func Validation(msg string, fields map[string]any) *Error {
	return &Error{K: KindValidation, Message: msg, Fields: fields}
}

// NotFound returns a not-found error.
func NotFound(msg string) *Error {
	return &Error{K: KindNotFound, Message: msg}
}

// Conflict wraps cause as a conflict error.
func Conflict(msg string, cause error) *Error {
	return &Error{K: KindConflict, Message: msg, Err: cause}
}

// Unauthorized returns an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{K: KindUnauthorized, Message: msg}
}

// Forbidden returns a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{K: KindForbidden, Message: msg}
}

// KindOf reports the Kind of the first Kinded error in err's chain, or
// KindInternal when none is found.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// DetailOf returns structured fields from the first error in the chain that
// exposes them.
func DetailOf(err error) map[string]any {
	var d interface{ Detail() map[string]any }
	if errors.As(err, &d) {
		return d.Detail()
	}
	return nil
}

// MessageOf returns the client-facing message of the first Kinded error in
// err's chain, without the text of wrapping layers. Internal errors get a
// generic message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.K != KindInternal {
		return e.Message
	}
	var k Kinded
	if errors.As(err, &k) && k.Kind() != KindInternal {
		return k.Error()
	}
	return "internal server error"
}
