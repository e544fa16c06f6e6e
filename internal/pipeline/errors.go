package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a scoring collaborator that cannot serve right now.
// The affected signal is nulled and the aggregate recomputed without it.
var ErrUnavailable = errors.New("collaborator unavailable")

// ErrUnknownTask is returned by frontier operations on URLs never pushed.
var ErrUnknownTask = errors.New("unknown task")

// FetchErrorKind splits fetch failures into retryable and not.
type FetchErrorKind string

// Fetch error kinds. Transient errors (timeouts, 5xx, resets) are retried
// per the frontier backoff policy; permanent ones (404, robots denial) skip
// the task immediately.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchPermanent FetchErrorKind = "permanent"
)

// FetchError wraps a fetch failure with its retry classification.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error { return e.Err }

// NewTransientFetchError builds a retryable fetch error.
func NewTransientFetchError(statusCode int, err error) *FetchError {
	return &FetchError{Kind: FetchTransient, StatusCode: statusCode, Err: err}
}

// NewPermanentFetchError builds a non-retryable fetch error.
func NewPermanentFetchError(statusCode int, err error) *FetchError {
	return &FetchError{Kind: FetchPermanent, StatusCode: statusCode, Err: err}
}

// IsPermanentFetch reports whether err is a permanent fetch failure.
func IsPermanentFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchPermanent
}

// IsTransientFetch reports whether err is a retryable fetch failure.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}
