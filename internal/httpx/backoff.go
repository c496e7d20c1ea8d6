package httpx

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays. Next is a pure function of the attempt
// number (plus optional jitter) so policies are testable without real waits.
type Backoff struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the growth factor between attempts. Defaults to 2.
	Multiplier float64

	// Jitter adds up to Jitter*delay of random extra wait. 0 disables it.
	Jitter float64
}

// DefaultBackoff mirrors the retry budget used against both providers.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// Next returns the delay to wait after the given failed attempt (1-based)
// and whether another attempt is allowed.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt >= b.MaxAttempts {
		return 0, false
	}

	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := float64(b.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	d := time.Duration(delay)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}

	return d, true
}
