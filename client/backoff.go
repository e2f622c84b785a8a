package client

import (
	"math/rand/v2"
	"time"
)

// Backoff controls automatic reconnection.
type Backoff struct {
	// Delay is the wait before the first reconnect attempt.
	Delay time.Duration
	// MaxDelay caps the wait when Factor grows it. Zero means no cap.
	MaxDelay time.Duration
	// Factor multiplies the wait per attempt. Values <= 1 keep it fixed.
	Factor float64
	// Jitter randomizes the wait by this fraction (0-1).
	Jitter float64
	// MaxAttempts stops reconnecting after this many consecutive failures.
	// Zero means unlimited.
	MaxAttempts int
	// Disabled turns automatic reconnection off.
	Disabled bool
}

// DefaultBackoff retries every 3s without limit.
func DefaultBackoff() Backoff {
	return Backoff{Delay: 3 * time.Second, Factor: 1}
}

// Allows reports whether attempt (1-based) may run.
func (b Backoff) Allows(attempt int) bool {
	if b.Disabled {
		return false
	}
	return b.MaxAttempts <= 0 || attempt <= b.MaxAttempts
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := b.Delay
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	if b.Factor > 1 {
		for i := 1; i < attempt; i++ {
			next := time.Duration(float64(wait) * b.Factor)
			if b.MaxDelay > 0 && next > b.MaxDelay {
				wait = b.MaxDelay
				break
			}
			wait = next
		}
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min(b.Jitter, 1)
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
