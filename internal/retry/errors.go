package retry

import (
	"errors"
	"fmt"
	"time"
)

// Class is what a failure signals about the remote side, which in turn
// decides the retry policy.
type Class int

const (
	// ClassTransient is the default for unclassified errors; treated the
	// same as ClassUnavailable.
	ClassTransient Class = iota
	// ClassUnavailable is a transient remote outage/timeout/connection loss;
	// retried with exponential backoff.
	ClassUnavailable
	// ClassRateLimited is remote throttling with a server-specified wait;
	// always retried after honoring exactly that wait.
	ClassRateLimited
	// ClassPermanent means the target is gone or access is denied;
	// never retried.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassUnavailable:
		return "unavailable"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Permanent marks an error as non-retryable (resource gone, forbidden).
//
// Example:
//
//	return retry.Permanent(fmt.Errorf("channel deleted: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

// RateLimited marks an error as remote throttling carrying the
// server-specified wait before the next attempt.
func RateLimited(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return rateLimitedError{err: err, after: after}
}

type rateLimitedError struct {
	err   error
	after time.Duration
}

func (e rateLimitedError) Error() string {
	return fmt.Sprintf("rate-limited(retry after %s): %v", e.after, e.err)
}
func (e rateLimitedError) Unwrap() error             { return e.err }
func (e rateLimitedError) RetryAfter() time.Duration { return e.after }

// Unavailable marks an error as a transient remote outage.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return unavailableError{err: err}
}

type unavailableError struct{ err error }

func (e unavailableError) Error() string { return fmt.Sprintf("unavailable: %v", e.err) }
func (e unavailableError) Unwrap() error { return e.err }

// ClassOf classifies err. Unwrapped/unknown errors default to ClassTransient.
func ClassOf(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var pe permanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}
	var rl rateLimitedError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	var ue unavailableError
	if errors.As(err, &ue) {
		return ClassUnavailable
	}
	return ClassTransient
}

// RetryAfterOf extracts the server-specified wait from a rate-limited error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl rateLimitedError
	if errors.As(err, &rl) {
		return rl.after, true
	}
	return 0, false
}
