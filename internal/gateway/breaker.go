package gateway

import (
	"log/slog"
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

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

type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successes in half-open before closing
	Timeout          time.Duration // Cool-down before half-open
	VolumeThreshold  int           // Minimum requests before the breaker may open
	Name             string
	Logger           *slog.Logger
}

// CircuitBreaker stops sends to a platform that keeps failing.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	requestCount    int
	lastStateChange time.Time
	config          CircuitBreakerConfig
	now             func() time.Time
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.VolumeThreshold <= 0 {
		config.VolumeThreshold = 10
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CircuitBreaker{state: CircuitClosed, config: config, now: time.Now}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastStateChange = cb.now()
	cb.config.Logger.Info("circuit_breaker_state_change",
		slog.String("breaker", cb.config.Name),
		slog.String("from_state", from.String()),
		slog.String("to_state", to.String()),
	)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// AllowRequest moves an open breaker to half-open once the cool-down has passed.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return false
		}
		cb.transition(CircuitHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++
	switch cb.state {
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transition(CircuitClosed)
		}
	case CircuitClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++
	switch cb.state {
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold && cb.requestCount >= cb.config.VolumeThreshold {
			cb.transition(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.requestCount = 0
	cb.transition(CircuitClosed)
}
