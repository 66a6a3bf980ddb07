// Package backoff implements exponential backoff for reconnect loops.
package backoff

import (
	"context"
	"time"
)

// Backoff produces exponentially increasing delays between a minimum and a
// maximum. It is not safe for concurrent use; each retry loop owns its own
// Backoff.
type Backoff struct {
	min     time.Duration
	max     time.Duration
	current time.Duration
}

// New creates a Backoff that starts at min and doubles up to max.
func New(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, current: min}
}

// Next returns the current delay and doubles the next one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns the backoff to its minimum delay.
func (b *Backoff) Reset() {
	b.current = b.min
}

// Wait sleeps for the next delay or until the context is cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
