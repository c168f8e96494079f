package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedRandom(v float64) func() float64 {
	return func() float64 { return v }
}

func TestBackoffPolicyShouldRetry(t *testing.T) {
	policy := NewBackoffPolicy(1000, 30000, 5, nil)

	assert.True(t, policy.ShouldRetry(0))
	assert.True(t, policy.ShouldRetry(4))
	assert.False(t, policy.ShouldRetry(5))
	assert.False(t, policy.ShouldRetry(6))
}

func TestBackoffPolicyDelay(t *testing.T) {
	policy := NewBackoffPolicy(1000, 30000, 5, nil)

	tests := []struct {
		name    string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{name: "first attempt", attempt: 1, min: 500 * time.Millisecond, max: 1500 * time.Millisecond},
		{name: "second attempt", attempt: 2, min: 1 * time.Second, max: 3 * time.Second},
		{name: "fourth attempt", attempt: 4, min: 4 * time.Second, max: 12 * time.Second},
		{name: "attempt below one is clamped", attempt: 0, min: 500 * time.Millisecond, max: 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 50 {
				delay := policy.Delay(tt.attempt, nil)
				assert.GreaterOrEqual(t, delay, tt.min)
				assert.LessOrEqual(t, delay, tt.max)
			}
		})
	}
}

func TestBackoffPolicyDelayExactWithFixedRandom(t *testing.T) {
	tests := []struct {
		name    string
		random  float64
		attempt int
		want    time.Duration
	}{
		{name: "low jitter halves the delay", random: 0, attempt: 1, want: 500 * time.Millisecond},
		{name: "midpoint jitter keeps the base", random: 0.5, attempt: 1, want: 1 * time.Second},
		{name: "third attempt doubles twice", random: 0.5, attempt: 3, want: 4 * time.Second},
		{name: "high jitter caps at max", random: 0.999, attempt: 6, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewBackoffPolicy(1000, 30000, 5, fixedRandom(tt.random))
			assert.Equal(t, tt.want, policy.Delay(tt.attempt, nil))
		})
	}
}

func TestBackoffPolicyDelayIsCapped(t *testing.T) {
	policy := NewBackoffPolicy(1000, 30000, 5, nil)

	for range 50 {
		delay := policy.Delay(20, nil)
		assert.LessOrEqual(t, delay, 30*time.Second)
		assert.GreaterOrEqual(t, delay, 15*time.Second)
	}
}

func TestBackoffPolicyRetryAfterOverride(t *testing.T) {
	policy := NewBackoffPolicy(1000, 30000, 5, nil)
	retryAfter := 60 * time.Second

	for range 50 {
		delay := policy.Delay(1, &retryAfter)
		assert.GreaterOrEqual(t, delay, 60*time.Second)
		assert.Less(t, delay, 65*time.Second)
	}
}

func TestBackoffPolicyRetryAfterExactWithFixedRandom(t *testing.T) {
	retryAfter := 60 * time.Second

	policy := NewBackoffPolicy(1000, 30000, 5, fixedRandom(0))
	assert.Equal(t, 60*time.Second, policy.Delay(1, &retryAfter))

	policy = NewBackoffPolicy(1000, 30000, 5, fixedRandom(0.5))
	assert.Equal(t, 62*time.Second+500*time.Millisecond, policy.Delay(1, &retryAfter))
}
