package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by a distributed backend that has no
// endpoint or credentials. Callers treat it as "skip me", not as a failure.
var ErrNotConfigured = errors.New("quota/store: backend not configured")

// Kind classifies backend failures.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindTimeout     Kind = "timeout"
	KindParse       Kind = "parse"
	KindScript      Kind = "script"
	KindUnavailable Kind = "unavailable"
)

// BackendError describes a failed backend operation.
type BackendError struct {
	Kind    Kind
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("quota/store: %s %s: %s: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewError builds a BackendError. Context deadline errors are always
// reported as KindTimeout regardless of the kind passed in.
func NewError(kind Kind, backend, op string, err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &BackendError{Kind: kind, Backend: backend, Op: op, Err: err}
}

// KindOf returns the Kind of err, or KindTransport for unclassified errors.
func KindOf(err error) Kind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}
