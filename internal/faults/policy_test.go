package faults

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedJitter pins the jitter source at the given value for deterministic tests.
func fixedJitter(p *Policy, v float64) {
	p.jitterFunc = func() float64 { return v }
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	p := DefaultPolicy()
	fixedJitter(p, 0)

	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
}

func TestDelay_CappedAtMax(t *testing.T) {
	p := DefaultPolicy()
	fixedJitter(p, 0)

	// 2^9 seconds is well past the 30s cap.
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func TestDelay_JitterBounds(t *testing.T) {
	p := DefaultPolicy()
	fixedJitter(p, 0.999)

	// Max jitter adds just under 10%: delay stays below max * 1.1.
	d := p.Delay(10)
	maxWithJitter := float64(30*time.Second) * 1.1
	assert.Greater(t, d, 30*time.Second)
	assert.LessOrEqual(t, d, time.Duration(maxWithJitter))
}

func TestDelay_MonotonicNonDecreasing(t *testing.T) {
	p := DefaultPolicy()
	fixedJitter(p, 0)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		prev = d
	}
}

func TestDelay_AttemptFloor(t *testing.T) {
	p := DefaultPolicy()
	fixedJitter(p, 0)

	// Attempts below 1 are treated as the first attempt.
	assert.Equal(t, p.Delay(1), p.Delay(0))
	assert.Equal(t, p.Delay(1), p.Delay(-3))
}

func TestShouldRetry(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.ShouldRetry(KindNetwork, 0))
	assert.True(t, p.ShouldRetry(KindNetwork, 2))
	assert.False(t, p.ShouldRetry(KindNetwork, 3), "attempt ceiling reached")
	assert.False(t, p.ShouldRetry(KindInvalidInput, 0), "non-retryable kind")
	assert.False(t, p.ShouldRetry(KindUnknown, 0), "unknown is never retried")
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0, 0, 0)

	require.NotNil(t, p)
	assert.Equal(t, DefaultBaseDelay, p.BaseDelay)
	assert.Equal(t, DefaultMaxDelay, p.MaxDelay)
	assert.Equal(t, DefaultMultiplier, p.Multiplier)
	assert.Equal(t, DefaultMaxRetries, p.MaxRetries)
	assert.NotNil(t, p.jitterFunc)
}

func TestNewPolicy_CustomValues(t *testing.T) {
	p := NewPolicy(5*time.Second, 300*time.Second, 3, 5)

	assert.Equal(t, 5*time.Second, p.BaseDelay)
	assert.Equal(t, 300*time.Second, p.MaxDelay)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.Equal(t, 5, p.MaxRetries)

	fixedJitter(p, 0)
	assert.Equal(t, 45*time.Second, p.Delay(3))
}
