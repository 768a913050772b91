// Package retry provides exponential backoff helpers for transient failures.
//
// The pipeline uses a power-of-two schedule: attempt 0 waits 1s, attempt 1
// waits 2s, attempt 2 waits 4s, and so on, capped to keep a misbehaving
// dependency from stalling a turn indefinitely.
package retry

import (
	"context"
	"time"
)

// maxBackoff caps the computed delay so late attempts do not balloon.
const maxBackoff = 30 * time.Second

// Backoff returns the delay before the given zero-based attempt: 2^attempt
// seconds, capped at 30s. Negative attempts return zero.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Sleep waits for the backoff delay of the given attempt or until ctx is
// cancelled, whichever comes first. Returns ctx.Err() on cancellation.
func Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(Backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
