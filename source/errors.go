package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransport matches every *Error via errors.Is
	ErrTransport = errors.New("transport error")
	// ErrNotFound is wrapped by errors for files the archive does not have
	ErrNotFound = errors.New("remote file not found")
)

// Error is a failed transport operation. Temporary errors (timeouts,
// connection resets, 5xx answers) are worth retrying; the rest are not.
type Error struct {
	Op        string
	Path      string
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTransport }

func notFound(op, path string, cause error) *Error {
	return &Error{Op: op, Path: path, Err: fmt.Errorf("%w: %v", ErrNotFound, cause)}
}

// IsTemporary reports whether err is a transient transport failure.
// Cancellation of the parent context is never temporary.
func IsTemporary(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Temporary
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify wraps a raw client error; unknown errors are treated as temporary
// because they almost always come from the network.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Path: path, Temporary: !errors.Is(err, context.Canceled), Err: err}
}
