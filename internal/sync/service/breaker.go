package service

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's observable state.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// CircuitBreaker trips open when too many retryable failures land inside a
// sliding window, suspending dispatch for a cooldown period. Only
// retryable failure kinds are recorded; permanent failures say nothing
// about server health.
type CircuitBreaker struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	failures []time.Time
	openedAt time.Time
	open     bool
}

// NewCircuitBreaker creates a closed breaker. A nil clock defaults to
// time.Now.
func NewCircuitBreaker(threshold int, window, cooldown time.Duration, clock func() time.Time) *CircuitBreaker {
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		clock:     clock,
	}
}

// Allow reports whether a dispatch may proceed. An open breaker closes
// again once the cooldown has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.clock().Sub(b.openedAt) >= b.cooldown {
		b.open = false
		b.failures = nil
		return true
	}
	return false
}

// RecordFailure records one retryable failure and returns true when this
// failure tripped the breaker open.
func (b *CircuitBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.failures = append(b.failures, now)
	b.prune(now)

	if !b.open && len(b.failures) >= b.threshold {
		b.open = true
		b.openedAt = now
		return true
	}
	return false
}

// RecordSuccess clears the failure history. Any successful dispatch proves
// the server reachable again.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = nil
	b.open = false
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open && b.clock().Sub(b.openedAt) < b.cooldown {
		return BreakerOpen
	}
	return BreakerClosed
}

// CooldownRemaining reports how long dispatch stays suspended. Zero while
// the breaker is closed or once the cooldown has elapsed.
func (b *CircuitBreaker) CooldownRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return 0
	}
	remaining := b.cooldown - b.clock().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// prune drops failures that slid out of the window. Caller holds the lock.
func (b *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
