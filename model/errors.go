package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a model error for the retry policy.
type ErrorKind int

const (
	// KindFatal errors propagate immediately.
	KindFatal ErrorKind = iota
	// KindTransient errors are retried with backoff.
	KindTransient
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

var (
	// ErrOverloaded marks an upstream overload. Errors matching it are transient.
	ErrOverloaded = errors.New("model overloaded")

	// ErrAttemptTimeout marks a single attempt that exceeded its own timeout.
	ErrAttemptTimeout = errors.New("model attempt timed out")
)

type overloadedError struct {
	cause error
}

func (e *overloadedError) Error() string {
	if e.cause == nil {
		return ErrOverloaded.Error()
	}
	return fmt.Sprintf("%s: %v", ErrOverloaded, e.cause)
}

func (e *overloadedError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrOverloaded}
	}
	return []error{ErrOverloaded, e.cause}
}

// Overloaded wraps cause so that it matches ErrOverloaded.
func Overloaded(cause error) error {
	return &overloadedError{cause: cause}
}

// Classify reports whether err is worth retrying.
func Classify(err error) ErrorKind {
	if errors.Is(err, ErrOverloaded) || errors.Is(err, ErrAttemptTimeout) {
		return KindTransient
	}
	return KindFatal
}

// Error is returned by the Invoker when a model call finally fails. Kind is
// the classification of the last attempt's error: KindTransient means retries
// were exhausted.
type Error struct {
	Kind     ErrorKind
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	if e.Kind == KindTransient {
		return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("model call failed: %v", e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a model error whose last attempt failed
// with a transient classification.
func IsTransient(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == KindTransient
	}
	return Classify(err) == KindTransient
}
