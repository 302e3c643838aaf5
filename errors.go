package configstore

import (
	"errors"
	"fmt"
)

// ErrKind classifies a configstore error the way a transport shell would
// map it onto a status code. The store never returns NotFound directly;
// callers map an empty result to NotFound themselves if that fits their
// transport.
type ErrKind string

const (
	InvalidArgument    ErrKind = "InvalidArgument"
	FailedPrecondition ErrKind = "FailedPrecondition"
	Internal           ErrKind = "Internal"
	Unavailable        ErrKind = "Unavailable"
)

// Error is a Kind-tagged error. It wraps an optional cause so callers can
// still inspect the underlying adapter failure with errors.Unwrap/errors.As.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// NewInternalError builds a Kind=Internal error, for callers outside this
// package (such as the overlay package) that need to report an internal
// failure - e.g. a serialization error - without inventing a second error
// type.
func NewInternalError(msg string, cause error) error {
	return newError(Internal, msg, cause)
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
