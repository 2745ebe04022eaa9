package engine

import (
	"context"
	"time"
)

// DefaultBackoffBase is the exponent base for retry waits.
const DefaultBackoffBase = 2.0

// Backoff computes the wait before retry attempt k (1-based): base^k
// scaled by unit. A zero unit means seconds. With base 2 and unit
// time.Second the waits run 2s, 4s, 8s.
func Backoff(base float64, k int, unit time.Duration) time.Duration {
	if base <= 0 || k <= 0 {
		return 0
	}
	if unit <= 0 {
		unit = time.Second
	}
	mult := 1.0
	for i := 0; i < k; i++ {
		mult *= base
	}
	return time.Duration(mult * float64(unit))
}

// WaitForBackoff sleeps for the backoff delay, returning early when the
// run is paused or cancelled or the context ends. A retrying run must
// never hold its slot past a pause or cancel request.
func WaitForBackoff(ctx context.Context, ctl *Control, delay time.Duration) error {
	if delay <= 0 {
		return ctl.check()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctl.CancelChan():
		return ErrCancelled
	case <-ctl.PauseChan():
		return ErrPaused
	case <-ctx.Done():
		return ctx.Err()
	}
}
