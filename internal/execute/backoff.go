package execute

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes retry delays with exponential growth and jitter.
type BackoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps any single delay.
	Max time.Duration

	// Multiplier is applied after each retry; 2.0 doubles the delay.
	Multiplier float64

	// Jitter is a random factor in [0,1] applied to the delay; 0.1 adds up
	// to 10% variation either way, spreading retry bursts apart.
	Jitter float64
}

// DefaultBackoff returns the policy used when configuration supplies only
// base and max.
func DefaultBackoff(base, max time.Duration) BackoffPolicy {
	return BackoffPolicy{Base: base, Max: max, Multiplier: 2.0, Jitter: 0.1}
}

// Delay returns the wait before the retry following the given failed
// attempt (1-indexed): attempt 1 waits Base, attempt 2 waits Base*Multiplier,
// and so on, capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := math.Pow(p.Multiplier, float64(attempt-1))
	d := time.Duration(float64(p.Base) * mult)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		// delay * (1 - jitter + 2*jitter*rand) covers [1-jitter, 1+jitter].
		factor := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
		d = time.Duration(float64(d) * factor)
	}
	return d
}
