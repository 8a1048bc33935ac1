package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when a request is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Requests fail immediately
	StateHalfOpen              // Probing whether the backend recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	Name                string
	FailureThreshold    int           // Consecutive failures before opening
	SuccessThreshold    int           // Successes in half-open state to close
	Timeout             time.Duration // Time spent open before probing
	MaxRequestsHalfOpen int           // Concurrent trial requests allowed in half-open state

	// Now overrides the clock.
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		Name:                "default",
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker guards a flaky dependency.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	halfOpenRequests int
	lastFailureTime  time.Time
	stateChangeTime  time.Time

	onStateChange func(from, to State)
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *CircuitBreaker {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		config:          config,
		now:             now,
		state:           StateClosed,
		stateChangeTime: now(),
	}
}

// OnStateChange sets a callback invoked asynchronously on every transition
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn through cb and returns its result
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !cb.allowRequest() {
		return zero, fmt.Errorf("%w: %s is %s", ErrOpen, cb.config.Name, cb.GetState())
	}

	result, err := fn()
	if err != nil {
		// Cancellation says nothing about the health of the backend.
		if errors.Is(err, context.Canceled) {
			cb.release()
		} else {
			cb.onFailure()
		}
		return zero, err
	}

	cb.onSuccess()
	return result, nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.stateChangeTime) < cb.config.Timeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenRequests >= cb.config.MaxRequestsHalfOpen {
			return false
		}
		cb.halfOpenRequests++
	}

	return true
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.failureCount = 0

	if cb.state == StateHalfOpen {
		if cb.halfOpenRequests > 0 {
			cb.halfOpenRequests--
		}
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// transitionTo must be called with mu held
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.stateChangeTime = cb.now()
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenRequests = 0

	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats holds circuit breaker statistics
type Stats struct {
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenRequests int
	LastFailureTime  time.Time
	StateChangeTime  time.Time
}

// GetStats returns current circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		HalfOpenRequests: cb.halfOpenRequests,
		LastFailureTime:  cb.lastFailureTime,
		StateChangeTime:  cb.stateChangeTime,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}
