package util

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff is an exponential backoff calculator with optional jitter.
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	maxDelay time.Duration
	factor   float64
	jitter   float64 // Fraction of each delay that is randomized, 0 to 1
	attempts int
}

// NewBackoff returns a new Backoff with the given initial and maximum delays.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		current:  initial,
		initial:  initial,
		maxDelay: maxDelay,
		factor:   2.0,
	}
}

// WithJitter randomizes up to fraction of every delay so that notifiers
// retrying the same endpoint do not fire in lockstep.
func (b *Backoff) WithJitter(fraction float64) *Backoff {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jitter = min(max(fraction, 0), 1)
	return b
}

// Next returns the current delay and advances to the next value.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current = min(time.Duration(float64(b.current)*b.factor), b.maxDelay)
	b.attempts++
	if b.jitter > 0 && d > 0 {
		spread := time.Duration(float64(d) * b.jitter)
		d = d - spread + rand.N(spread+1)
	}
	return d
}

// Attempts returns how many delays Next has handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Wait sleeps for the next delay. It returns ctx.Err() if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	return SleepContext(ctx, b.Next())
}

// Reset sets the backoff back to the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
