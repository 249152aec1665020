// Package retry runs upstream calls with a bounded number of attempts and a
// fixed delay between them. Only transient failures are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

var (
	// ErrExhausted matches any *ExhaustedError.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrAborted is returned when the parent context ends mid-retry.
	ErrAborted = errors.New("retry: aborted")
)

// ExhaustedError is returned after MaxRetries transient failures.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Policy is a fixed-delay retry policy.
type Policy struct {
	MaxRetries     int           // total attempts, minimum 1
	Delay          time.Duration // pause between attempts
	AttemptTimeout time.Duration // per-attempt deadline, 0 = none

	// OnRetry is called before sleeping after a transient failure.
	OnRetry func(attempt int, err error)

	// Classify overrides IsTransient when set.
	Classify func(err error) bool
}

func (p Policy) attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

func (p Policy) transient(err error) bool {
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.Classify != nil {
		return p.Classify(err)
	}
	return IsTransient(err)
}

// Do calls fn until it succeeds, fails permanently, or attempts run out.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var last error

	n := p.attempts()
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrAborted, err)
		}

		v, err := call(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return v, nil
		}
		// A parent cancellation surfaces as a context error from fn.
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		if !p.transient(err) {
			return zero, err
		}
		last = err
		if attempt == n {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrAborted, err)
		}
	}
	return zero, &ExhaustedError{Attempts: n, Last: last}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransient reports whether err is worth another attempt: timeouts,
// dropped connections, and errors that say so via Transient() bool.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	var te interface{ Transient() bool }
	if errors.As(err, &te) {
		return te.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
