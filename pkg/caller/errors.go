package caller

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class tells whether a failed call may succeed if attempted again.
type Class int

const (
	Retryable Class = iota
	NonRetryable
)

func (c Class) String() string {
	if c == NonRetryable {
		return "non-retryable"
	}
	return "retryable"
}

// Error is returned by the Caller when an operation ultimately fails. It
// wraps the last error seen.
type Error struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	noun := "attempts"
	if e.Attempts == 1 {
		noun = "attempt"
	}
	return fmt.Sprintf("%s error after %d %s: %v", e.Class, e.Attempts, noun, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string   { return e.err.Error() }
func (e *statusError) Unwrap() error   { return e.err }
func (e *statusError) HTTPStatus() int { return e.code }

// WithStatus attaches an HTTP status code to err so it can be classified.
func WithStatus(code int, err error) error {
	if err == nil {
		return nil
	}
	return &statusError{code: code, err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify decides whether err is worth retrying. Client errors in the
// 400-409 range, cancellation, timeouts and errors marked Permanent are not.
func Classify(err error) Class {
	var perm *permanentError
	if errors.As(err, &perm) {
		return NonRetryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NonRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NonRetryable
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatus(); code >= 400 && code <= 409 {
			return NonRetryable
		}
	}
	return Retryable
}
