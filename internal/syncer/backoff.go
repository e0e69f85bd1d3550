package syncer

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before a batch's next delivery attempt. Retry
// state lives in the store (the batch's attempt counter survives restarts),
// so this is a pure attempt-to-delay function rather than a retry loop.
type Backoff struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps the delay regardless of attempt count.
	Max time.Duration
	// Multiplier is the per-attempt growth factor.
	Multiplier float64
	// Jitter spreads delays by +/- this fraction so a fleet of devices
	// recovering from the same outage does not stampede the collector.
	Jitter float64
}

// NewBackoff returns a backoff with the given bounds and the standard
// doubling curve with 20% jitter.
func NewBackoff(initial, max time.Duration) Backoff {
	return Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay returns the wait before attempt n+1, given n failed attempts.
// Zero attempts means the batch may be sent immediately.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}

	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempts-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
