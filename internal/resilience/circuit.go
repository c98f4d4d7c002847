// Package resilience implements the per-provider call protection layer:
// sliding-window rate limiting, circuit breaking, credit budgeting, and
// the serialized request scheduler that ties them together.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures in the monitoring window;
	// requests are rejected immediately until the recovery timeout.
	CircuitOpen
	// CircuitHalfOpen allows a bounded number of probe requests to test
	// recovery.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open. Callers should treat it as "try again later", not as a broken
// input.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures inside MonitoringWindow
	// before opening the circuit. Default: 5.
	FailureThreshold int

	// MonitoringWindow is the rolling window failures are counted in.
	// Default: 60s.
	MonitoringWindow time.Duration

	// RecoveryTimeout is how long the circuit stays open before
	// transitioning to half-open. Default: 30s.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of successful probes required in
	// half-open state before closing the circuit. Default: 1.
	SuccessThreshold int

	// ProbeLimit bounds how many probe calls are admitted per half-open
	// episode. Default: SuccessThreshold.
	ProbeLimit int

	// ShouldTrip optionally overrides the default check. If nil, every
	// error counts toward the failure threshold.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		MonitoringWindow: time.Minute,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker guards calls to a single provider with the three-state
// machine: closed → open (threshold breached inside the window), open →
// half-open (recovery timeout elapsed), half-open → closed (success
// threshold reached, history cleared) or half-open → open (any probe
// failure). No other edge is legal.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	failures          []time.Time
	openedAt          time.Time
	halfOpenProbes    int
	halfOpenSuccesses int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = time.Minute
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = cfg.SuccessThreshold
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen if
// the circuit rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err)
	return val, err
}

// State returns the current circuit state, accounting for a pending
// open → half-open transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state and clears history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.failures = nil
	cb.halfOpenProbes = 0
	cb.halfOpenSuccesses = 0
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(old, CircuitClosed)
	}
}

// Counters returns the windowed failure count and state for observability.
func (cb *CircuitBreaker) Counters() (windowFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(cb.nowFunc())
	return len(cb.failures), cb.state
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.transition(CircuitHalfOpen)
			cb.halfOpenProbes = 1
			cb.halfOpenSuccesses = 0
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.halfOpenProbes >= cb.cfg.ProbeLimit {
			return ErrCircuitOpen
		}
		cb.halfOpenProbes++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	now := cb.nowFunc()

	if err == nil || !shouldTrip(err) {
		switch cb.state {
		case CircuitHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
				cb.transition(CircuitClosed)
				cb.failures = nil
				cb.halfOpenProbes = 0
				cb.halfOpenSuccesses = 0
			}
		case CircuitClosed:
			cb.pruneLocked(now)
		}
		return
	}

	// Failure.
	cb.failures = append(cb.failures, now)
	cb.pruneLocked(now)

	switch cb.state {
	case CircuitClosed:
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
			cb.openedAt = now
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit, regardless of
		// prior successes in this episode.
		cb.transition(CircuitOpen)
		cb.openedAt = now
		cb.halfOpenProbes = 0
		cb.halfOpenSuccesses = 0
	}
}

// pruneLocked drops failure timestamps outside the monitoring window.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.MonitoringWindow)
	i := 0
	for i < len(cb.failures) && !cb.failures[i].After(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = append([]time.Time(nil), cb.failures[i:]...)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
