// Package service holds the sync engine's supporting policies and
// single-purpose services: retry backoff, circuit breaking, coalescing,
// idempotency tracking, the crash-recovery journal, the processing lock,
// and conflict reconciliation.
package service

import (
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes retry scheduling for transient dispatch failures.
// Delays grow exponentially with full-range jitter so a fleet of clients
// recovering from the same outage does not thunder back in lockstep.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	random func() float64
}

// NewBackoffPolicy creates a policy from millisecond configuration values.
// random yields uniform values in [0, 1) and drives the jitter; nil
// defaults to the shared math/rand source. Tests pass a fixed function to
// make delays exact.
func NewBackoffPolicy(baseMs, maxMs int64, maxAttempts int, random func() float64) *BackoffPolicy {
	if random == nil {
		random = rand.Float64
	}
	return &BackoffPolicy{
		Base:        time.Duration(baseMs) * time.Millisecond,
		Max:         time.Duration(maxMs) * time.Millisecond,
		MaxAttempts: maxAttempts,
		random:      random,
	}
}

// ShouldRetry reports whether another attempt is allowed after the given
// attempt count.
func (p *BackoffPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Delay returns the wait before the next attempt. attempt is 1-based: the
// delay after the first failed attempt is computed with attempt = 1.
//
// A server-provided retryAfter hint overrides the exponential schedule and
// gets up to five seconds of additive jitter instead, on the grounds that
// the server knows its own recovery time better than we do.
func (p *BackoffPolicy) Delay(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter + time.Duration(p.random()*float64(5*time.Second))
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base << (attempt - 1)
	if delay > p.Max || delay <= 0 {
		delay = p.Max
	}

	// Multiply by a uniform factor in [0.5, 1.5).
	jittered := time.Duration(float64(delay) * (0.5 + p.random()))
	if jittered > p.Max {
		jittered = p.Max
	}
	return jittered
}
