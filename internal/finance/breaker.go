package finance

import (
	"sync"
	"time"

	"purchase-service/internal/util"
)

// Breaker states
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// CircuitBreaker guards calls to the external approval gateway. Closed state
// passes calls through; after the failure threshold is reached the breaker
// opens and calls fail fast until the cool-down elapses, at which point a
// single probe is allowed through (half-open).
type CircuitBreaker struct {
	mu        sync.Mutex
	state     string
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:     BreakerClosed,
		threshold: failureThreshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the cool-down elapses, then admits exactly one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.transition(BreakerHalfOpen)
		cb.probing = true
		return true
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// RecordSuccess notes a successful call, closing the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	if cb.state != BreakerClosed {
		cb.transition(BreakerClosed)
	}
}

// RecordFailure notes a failed call. A failed half-open probe reopens the
// breaker immediately; in the closed state the breaker opens once the
// failure count reaches the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	switch cb.state {
	case BreakerHalfOpen:
		cb.openedAt = cb.now()
		cb.transition(BreakerOpen)
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.openedAt = cb.now()
			cb.transition(BreakerOpen)
		}
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(state string) {
	cb.state = state
	util.BreakerStateChanges.WithLabelValues(state).Inc()
}
