// Package errs defines the closed error-kind vocabulary every Synap store,
// queue, log, coordinator, transaction and script operation returns through.
// The envelope layer (external, out of scope here) maps a Kind to a wire
// status without reaching into internal error types.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories from the Synap spec.
type Kind string

const (
	KeyNotFound     Kind = "KeyNotFound"
	KeyExpired      Kind = "KeyExpired"
	NotFound        Kind = "NotFound"
	IndexOutOfRange Kind = "IndexOutOfRange"
	InvalidValue    Kind = "InvalidValue"
	InvalidRequest  Kind = "InvalidRequest"
	QueueFull       Kind = "QueueFull"
	QueueNotFound   Kind = "QueueNotFound"
	MessageNotFound Kind = "MessageNotFound"
	Timeout         Kind = "Timeout"
	InternalError   Kind = "InternalError"
)

// Error is a Kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *Error of the given kind, so callers can
// write `errors.Is(err, errs.New(errs.KeyNotFound, ""))`-style checks via
// the KindOf helper instead — Is here supports errors.Is when target is a
// *Error with a matching Kind and empty message (a kind-only sentinel).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return *t == *e
}

// KindOf extracts the Kind from err, defaulting to InternalError for any
// error that did not originate from this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Sentinel returns a kind-only sentinel usable with errors.Is(err, Sentinel(Kind)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
