// internal/apperrors/apperrors.go
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure. Handlers map kinds to HTTP status
// codes; services never partially apply state on any kind.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindParameter     Kind = "parameter"
	KindConsistency   Kind = "consistency"
	KindExternal      Kind = "external"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Authorization(message string) *Error { return New(KindAuthorization, message) }
func State(message string) *Error         { return New(KindState, message) }
func Parameter(message string) *Error     { return New(KindParameter, message) }
func Consistency(message string) *Error   { return New(KindConsistency, message) }
func External(message string, err error) *Error {
	return Wrap(KindExternal, message, err)
}
func NotFound(entity string) *Error { return Newf(KindNotFound, "%s not found", entity) }
func Internal(err error) *Error     { return Wrap(KindInternal, "internal error", err) }

// KindOf extracts the kind from any error in the chain, defaulting to
// internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
