// Package enginerr defines the engine-wide error taxonomy and a shared
// retry helper for transient failures (lock contention, timeouts).
package enginerr

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Class is one of the four top-level error categories every engine
// component classifies its failures into.
type Class int

const (
	// ClassInput marks a malformed or invalid request; never retried.
	ClassInput Class = iota
	// ClassTransient marks a failure expected to clear on its own (lock
	// contention, a timed-out subprocess, a dropped connection).
	ClassTransient
	// ClassPermanent marks a failure that will not clear without
	// intervention (a missing dependency, an unsatisfiable constraint).
	ClassPermanent
	// ClassFatal marks a failure that should halt the owning component.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel base errors. Wrap one with fmt.Errorf("...: %w", ErrInput) so
// callers can classify with errors.Is without string matching.
var (
	ErrInput     = errors.New("input error")
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
	ErrFatal     = errors.New("fatal error")
)

// ClassOf reports the taxonomy class for err by matching it against the
// sentinel errors, defaulting to ClassPermanent when err doesn't wrap any
// of them (an unclassified error is treated as non-retryable).
func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, ErrInput):
		return ClassInput
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, ErrFatal):
		return ClassFatal
	default:
		return ClassPermanent
	}
}

// Input wraps err (or a new error built from format/args) as an input
// error.
func Input(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInput)...)
}

// Transient wraps err as a transient error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err as a permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Fatal wraps err as a fatal error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsSQLiteBusy reports whether err is a SQLite BUSY/LOCKED condition, the
// one transient failure every repository method may see under contention.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// Retry runs f with exponential backoff and jitter while it returns a
// transient error (as classified by shouldRetry), up to maxAttempts
// total calls. A non-transient error or nil return stops the loop
// immediately. Retry respects ctx cancellation between attempts.
func Retry(ctx context.Context, maxAttempts int, shouldRetry func(error) bool, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// RetryBusy is Retry pre-configured for SQLite BUSY/LOCKED contention,
// the shape every repository method in internal/store uses.
func RetryBusy(ctx context.Context, maxAttempts int, f func() error) error {
	return Retry(ctx, maxAttempts, IsSQLiteBusy, f)
}
