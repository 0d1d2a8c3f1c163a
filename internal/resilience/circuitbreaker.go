// Package resilience guards calls to external chain-data gateways with a
// circuit breaker and tracks their health.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "HALF_OPEN" // Testing if service recovered
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to close
	SuccessThreshold int
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration
	// IsFailure decides which errors count against the circuit. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Execute runs fn with circuit breaker protection. fn is expected to honour ctx
// itself; a context error does not count as a gateway failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithResult(cb, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult runs a function that returns a result with circuit breaker protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
		return v, nil
	case ctx.Err() != nil:
		// Caller gave up; says nothing about the gateway.
		return zero, err
	case cb.config.IsFailure != nil && !cb.config.IsFailure(err):
		cb.recordSuccess()
		return zero, err
	default:
		cb.recordFailure()
		return zero, err
	}
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	cb.totalRequests++

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailureTime) <= cb.config.Timeout {
			cb.totalRejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from := cb.transitionTo(CircuitHalfOpen)
		cb.mu.Unlock()
		cb.notify(from, CircuitHalfOpen)
		return nil
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	cb.totalSuccesses++

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			from := cb.transitionTo(CircuitClosed)
			cb.mu.Unlock()
			cb.notify(from, CircuitClosed)
			return
		}
	case CircuitClosed:
		cb.failures = 0
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	cb.totalFailures++
	cb.lastFailureTime = cb.now()

	trip := false
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		trip = cb.failures >= cb.config.FailureThreshold
	case CircuitHalfOpen:
		trip = true
	}
	if !trip {
		cb.mu.Unlock()
		return
	}
	from := cb.transitionTo(CircuitOpen)
	cb.mu.Unlock()
	cb.notify(from, CircuitOpen)
}

// transitionTo must be called with mu held. It returns the previous state.
func (cb *CircuitBreaker) transitionTo(state CircuitState) CircuitState {
	from := cb.state
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil && from != to {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalRequests   int64        `json:"total_requests"`
	TotalSuccesses  int64        `json:"total_successes"`
	TotalFailures   int64        `json:"total_failures"`
	TotalRejected   int64        `json:"total_rejected"`
	CurrentFailures int          `json:"current_failures"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// FailureRate returns the failure rate as a percentage.
func (s CircuitBreakerStats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests) * 100
}
