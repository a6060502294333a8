// Package wait provides the bounded waits used for page loads and UI
// observation. Every wait ends on its signal, its timeout or its context,
// whichever comes first.
package wait

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrTimeout is returned by Poll when the condition never became true.
var ErrTimeout = errors.New("condition not met before timeout")

// For blocks until done is closed, the timeout elapses or ctx ends.
// It reports true only when done fired. A timeout is a normal outcome,
// callers treat it as a fallback resolve.
func For(ctx context.Context, done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Poll evaluates cond every interval until it returns true, the timeout
// elapses (ErrTimeout) or ctx ends (ctx.Err()).
func Poll(ctx context.Context, interval, timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if cond() {
				return nil
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jitter returns a random duration in [min, max].
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}
