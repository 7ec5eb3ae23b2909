package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the broker.
	ErrJobNotFound = errors.New("job not found")

	// ErrEntryNotFound is returned for a missing or expired dead letter entry.
	ErrEntryNotFound = errors.New("dead letter entry not found")

	// ErrForbidden is returned when a job belongs to a different principal.
	ErrForbidden = errors.New("job belongs to a different principal")

	// ErrRateLimited is returned synchronously when a queue's rolling-window
	// enqueue limit is exceeded.
	ErrRateLimited = errors.New("enqueue rate limit exceeded")

	// ErrUnknownQueue is returned when no configuration exists for a queue name.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrStaleClaim is returned by the broker when an update carries a
	// claim epoch that no longer matches the job. The caller treats it as
	// a lost race, not a failure.
	ErrStaleClaim = errors.New("stale claim")
)

// ValidationError is returned when a payload fails its queue's schema check.
// Such jobs are rejected at admission and never written to the broker.
type ValidationError struct {
	Queue  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload for queue %q: %s", e.Queue, e.Reason)
}

// RetryableError marks a handler failure as transient. It consumes an
// attempt and is rescheduled per the queue's backoff policy.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a handler failure as unrecoverable. The job moves to the
// dead letter store immediately, regardless of remaining attempts.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient execution failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Fatal wraps err as an unrecoverable execution failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err was declared unrecoverable by the handler.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
