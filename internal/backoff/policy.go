// Package backoff provides exponential backoff utilities with jitter,
// used by the job queue's redelivery logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0).
	Jitter float64
}

// DefaultPolicy returns the policy used for queue redelivery.
// Initial: 250ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 250,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Delay calculates the backoff duration for a given attempt number.
// base = initialMs * factor^(attempt-1); jitter = base * jitter * random().
// Returns min(maxMs, base + jitter). Attempt numbers start at 1.
func Delay(policy Policy, attempt int) time.Duration {
	return delayWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand computes the delay with a caller-supplied random value in
// [0.0, 1.0), so tests can be deterministic.
func delayWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}
