package engine

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrSessionUnavailable means no live browser context backs the session.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrPoolExhausted means no proxy endpoint is currently eligible.
	ErrPoolExhausted = errors.New("proxy pool exhausted")
	// ErrUnknownPlatform means no adapter is registered for the platform id.
	ErrUnknownPlatform = errors.New("unknown platform")
)

// SigningError reports a failed or timed-out in-page signing call.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("signing failed: %s", e.Reason)
}

func (e *SigningError) Unwrap() error { return e.Err }

// RetryableError marks a transient failure. Hint, when non-zero, carries the
// platform's suggested backoff (e.g. from a Retry-After header).
type RetryableError struct {
	Reason string
	Hint   time.Duration
	Err    error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %s", e.Reason)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// BanError reports a platform challenge or verification signal. The session
// and proxy that produced it are no longer trusted.
type BanError struct {
	Platform string
	Marker   string
}

func (e *BanError) Error() string {
	return fmt.Sprintf("banned on %s: %s", e.Platform, e.Marker)
}

// FatalError marks an unclassifiable response; the intent is not retried.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }
