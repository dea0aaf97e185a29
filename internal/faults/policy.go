package faults

import (
	"math"
	"math/rand/v2"
	"time"
)

// Retry policy defaults.
const (
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMultiplier = 2.0
	DefaultMaxRetries = 3

	jitterFraction = 0.1
)

// Policy computes exponential backoff delays and enforces the attempt
// ceiling. The zero value is not usable; construct with NewPolicy.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int

	// jitterFunc returns a value in [0,1). Injectable for deterministic tests.
	jitterFunc func() float64
}

// NewPolicy returns a Policy with the given parameters. Non-positive
// arguments fall back to the defaults.
func NewPolicy(base, max time.Duration, multiplier float64, maxRetries int) *Policy {
	if base <= 0 {
		base = DefaultBaseDelay
	}

	if max <= 0 {
		max = DefaultMaxDelay
	}

	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Policy{
		BaseDelay:  base,
		MaxDelay:   max,
		Multiplier: multiplier,
		MaxRetries: maxRetries,
		jitterFunc: rand.Float64,
	}
}

// DefaultPolicy returns a Policy with all defaults.
func DefaultPolicy() *Policy {
	return NewPolicy(0, 0, 0, 0)
}

// Delay returns the backoff before the given 1-indexed attempt:
// min(base * multiplier^(attempt-1), max) plus up to 10% additive jitter.
// Jitter is additive only, so the delay sequence stays non-decreasing up to
// the cap and never exceeds max * 1.1.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	delay += p.jitterFunc() * jitterFraction * delay

	return time.Duration(delay)
}

// ShouldRetry reports whether an operation of the given failure kind is
// worth another attempt after the given number of completed attempts.
func (p *Policy) ShouldRetry(kind Kind, attempts int) bool {
	return Retryable(kind) && attempts < p.MaxRetries
}
