package location

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind tags a failure. The string values are the codes seen by the host.
type Kind string

const (
	KindUnavailable  Kind = "UNAVAILABLE"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindCancelled    Kind = "CANCELLED"
	KindTimeout      Kind = "TIMEOUT"
	KindError        Kind = "ERROR"
	KindBusy         Kind = "BUSY"
)

// Error is the failure delivered for a request.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrTimeout) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnavailable  = &Error{Kind: KindUnavailable, Message: "Location not available"}
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "Location permission denied"}
	ErrCancelled    = &Error{Kind: KindCancelled, Message: "Location cancelled by another request"}
	ErrTimeout      = &Error{Kind: KindTimeout, Message: "Location timed out"}
	ErrBusy         = &Error{Kind: KindBusy, Message: "Location request already in progress"}
)

// ErrPermissionDenied is returned by back-ends and permission checkers when
// the process may not access location.
var ErrPermissionDenied = errors.New("location permission denied")

// KindOf returns the failure kind of err, or "" if err is nil or untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// classify maps a setup error onto the failure taxonomy.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if isPermission(err) {
		return newError(KindUnauthorized, ErrUnauthorized.Message, err)
	}
	return newError(KindUnavailable, ErrUnavailable.Message, err)
}

func isPermission(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, fs.ErrPermission)
}
