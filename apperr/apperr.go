// Package apperr defines the error taxonomy shared by every domain package.
// Handlers map kinds to HTTP status codes; services attach enough detail
// (offending field or current state) for callers to explain a rejection.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindInvalidState  Kind = "invalid_state"
	KindConflict      Kind = "conflict"
	KindAuthorization Kind = "authorization"
	KindPayment       Kind = "payment"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error carries a machine-readable kind plus the context a UI needs to
// explain the rejection without guessing.
type Error struct {
	Kind  Kind
	Msg   string
	Field string // offending input field, when applicable
	State string // current state that made the operation illegal
	Err   error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Field: field}
}

func InvalidState(state, msg string) *Error {
	return &Error{Kind: KindInvalidState, Msg: msg, State: state}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Msg: msg}
}

func Payment(msg string, cause error) *Error {
	return &Error{Kind: KindPayment, Msg: msg, Err: cause}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: cause}
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified errors
// report KindInternal so the HTTP layer never leaks a raw failure as 200.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
