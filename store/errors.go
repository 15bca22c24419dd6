package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every operation invoked after Close.
var ErrClosed = errors.New("store is closed")

// ErrorKind tags a storage failure with its broad cause so callers can
// react without inspecting backend-specific error types.
type ErrorKind string

const (
	// KindConnection covers dial, pool and transport failures.
	KindConnection ErrorKind = "connection"
	// KindTimeout covers deadline and cancellation failures.
	KindTimeout ErrorKind = "timeout"
	// KindNotFound covers lookups of missing entities.
	KindNotFound ErrorKind = "not_found"
	// KindSerialization covers encode/decode failures of stored values.
	KindSerialization ErrorKind = "serialization"
)

// Error is a kind-tagged storage failure wrapping the backend error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a kind-tagged storage error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
