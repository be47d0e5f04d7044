package queue

import "time"

// Backoff is an exponential delay capped at a maximum.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.base << uint(b.attempt)
	if delay > b.max || delay <= 0 {
		delay = b.max
	} else {
		b.attempt++
	}
	return delay
}

// Reset restarts the sequence at base.
func (b *Backoff) Reset() {
	b.attempt = 0
}
