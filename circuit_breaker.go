package dbrest

import (
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 60 * time.Second
	defaultSuccessThreshold = 2
)

// NewCircuitBreaker returns a closed breaker. Zero config fields take the
// defaults: 5 failures, 60s recovery, 2 successes.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaultFailureThreshold
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = defaultRecoveryTimeout
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = defaultSuccessThreshold
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a request may reach the server. An open breaker
// whose recovery timeout has passed goes half-open and lets requests
// through until the next outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.moveTo(StateHalfOpen)
	}
	return cb.state != StateOpen
}

// RecordFailure counts a network error or 5xx response. A failure while
// half-open reopens at once; one while open restarts the recovery timeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.moveTo(StateOpen)
		}
	case StateHalfOpen:
		cb.moveTo(StateOpen)
	case StateOpen:
		cb.openedAt = time.Now()
	}
}

// RecordSuccess counts a completed exchange. Failures only open the circuit
// when they are consecutive.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	}
}

// moveTo enters state with fresh counters and reports the change. cb.mu
// must be held.
func (cb *CircuitBreaker) moveTo(state CircuitState) {
	from := cb.state
	cb.state = state
	cb.failures, cb.successes = 0, 0
	if state == StateOpen {
		cb.openedAt = time.Now()
	}
	if cb.onChange != nil && from != state {
		cb.onChange(from, state)
	}
}
