package http

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the state where requests fail fast.
	CircuitOpen
	// CircuitHalfOpen is the testing state where one request is allowed.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Circuit breaker configuration constants
const (
	// DefaultFailureThreshold is the number of consecutive failures to open the circuit.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long the circuit stays open before testing.
	DefaultRecoveryTimeout = 30 * time.Second
	// DefaultHalfOpenMaxRequests is the number of test requests allowed in half-open state.
	DefaultHalfOpenMaxRequests = 1
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures to open the circuit.
	// Default: 5
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before transitioning to half-open.
	// Default: 30 seconds
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of test requests allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int
	// IsTransientError determines if an error is transient. Transient errors
	// increment the failure count; permanent errors don't affect the circuit.
	// If nil, all errors are treated as transient.
	IsTransientError func(error) bool
	// Disabled turns the breaker into a no-op.
	Disabled bool
}

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
		IsTransientError:    nil,
	}
}

// circuitState holds the state for a single circuit.
type circuitState struct {
	state             CircuitState
	consecutiveErrors int
	lastError         time.Time
	lastStateChange   time.Time
	halfOpenRequests  int
}

// CircuitBreaker implements the circuit breaker pattern for fault tolerance.
// It tracks failures per host and opens the circuit to fail fast when the
// course host stops responding, instead of burning retries per item.
type CircuitBreaker struct {
	circuits map[string]*circuitState
	mu       sync.RWMutex
	config   CircuitBreakerConfig
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}

	return &CircuitBreaker{
		circuits: make(map[string]*circuitState),
		config:   cfg,
	}
}

// Allow checks if a request to the given host should be allowed.
// Returns nil if the request is allowed, or ErrCircuitOpen if the circuit is open.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil || cb.config.Disabled {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(host)

	switch circuit.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(circuit.lastStateChange) >= cb.config.RecoveryTimeout {
			// Transition to half-open; this request counts as the first test
			circuit.state = CircuitHalfOpen
			circuit.lastStateChange = time.Now()
			circuit.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if circuit.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			circuit.halfOpenRequests++
			return nil
		}
		return ErrCircuitOpen

	default:
		return nil
	}
}

// RecordSuccess records a successful request for the given host.
// In half-open state, this closes the circuit.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil || cb.config.Disabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(host)

	switch circuit.state {
	case CircuitHalfOpen:
		circuit.state = CircuitClosed
		circuit.lastStateChange = time.Now()
		circuit.consecutiveErrors = 0
		circuit.halfOpenRequests = 0

	case CircuitClosed:
		circuit.consecutiveErrors = 0
	}
}

// RecordFailure records a failed request for the given host.
// If the failure threshold is reached, the circuit opens.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil || cb.config.Disabled {
		return
	}

	// Permanent errors (404 and friends) say nothing about host health
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(host)

	switch circuit.state {
	case CircuitClosed:
		circuit.consecutiveErrors++
		circuit.lastError = time.Now()

		if circuit.consecutiveErrors >= cb.config.FailureThreshold {
			circuit.state = CircuitOpen
			circuit.lastStateChange = time.Now()
		}

	case CircuitHalfOpen:
		circuit.state = CircuitOpen
		circuit.lastStateChange = time.Now()
		circuit.consecutiveErrors++
	}
}

// GetState returns the current state of the circuit for a host.
func (cb *CircuitBreaker) GetState(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	circuit, exists := cb.circuits[host]
	if !exists {
		return CircuitClosed
	}

	if circuit.state == CircuitOpen {
		if time.Since(circuit.lastStateChange) >= cb.config.RecoveryTimeout {
			return CircuitHalfOpen
		}
	}

	return circuit.state
}

// Reset resets the circuit for a host to the closed state.
func (cb *CircuitBreaker) Reset(host string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.circuits, host)
}

// getOrCreateCircuit gets or creates a circuit for a host.
// Must be called with mutex held.
func (cb *CircuitBreaker) getOrCreateCircuit(host string) *circuitState {
	circuit, exists := cb.circuits[host]
	if !exists {
		circuit = &circuitState{
			state:           CircuitClosed,
			lastStateChange: time.Now(),
		}
		cb.circuits[host] = circuit
	}
	return circuit
}

// IsTransientHTTPError determines if an HTTP error is transient.
// Use this as the IsTransientError function in CircuitBreakerConfig.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}

	// Rate limit errors are transient
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	// HTTP errors: 5xx and 429 are transient, other 4xx are permanent
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return true
		}
		if httpErr.StatusCode == 429 {
			return true
		}
		return false
	}

	// Network errors, timeouts, etc. are transient
	return true
}
