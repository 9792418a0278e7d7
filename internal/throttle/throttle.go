// Package throttle spaces out outbound requests across all workers.
package throttle

import (
	"context"
	"sync"
	"time"
)

// DefaultMinDelay is the polite pacing used against the public geocoding service.
const DefaultMinDelay = 800 * time.Millisecond

// Throttle enforces a minimum interval between the start of any two permitted calls.
//
// The wait happens while the lock is held, so callers queue up behind each other
// and are released one by one. The outbound request itself runs outside the lock.
type Throttle struct {
	mu       sync.Mutex
	last     time.Time
	minDelay time.Duration
}

// New creates a throttle with the given minimum delay between calls.
func New(minDelay time.Duration) *Throttle {
	if minDelay < 0 {
		minDelay = 0
	}

	return &Throttle{minDelay: minDelay}
}

// MinDelay returns the configured interval.
func (t *Throttle) MinDelay() time.Duration {
	return t.minDelay
}

// Acquire blocks until at least MinDelay has passed since the previously permitted call
// and returns the instant this call was permitted. If ctx is done while waiting,
// ctx.Err() is returned and the slot is not consumed.
func (t *Throttle) Acquire(ctx context.Context) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if !t.last.IsZero() {
		if err := Sleep(ctx, time.Until(t.last.Add(t.minDelay))); err != nil {
			return time.Time{}, err
		}
	}

	t.last = time.Now()

	return t.last, nil
}

// Sleep pauses for d or until ctx is done, whichever comes first.
// Non-positive durations return immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
