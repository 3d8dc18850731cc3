package bridge

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	ErrUnbound          = errors.New("bridge not bound")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceBusy       = errors.New("device busy")
	ErrTransportFailure = errors.New("transport failure")
	ErrNotConnected     = errors.New("not connected")
)

// Error records the failed operation, its kind, and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bridge: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("bridge: %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// asTransport wraps a platform error as a transport failure unless it already
// carries a kind.
func asTransport(op string, err error) error {
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return newError(op, ErrTransportFailure, err)
}
