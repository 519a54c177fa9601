// Package circuitbreaker protects channel providers from cascading
// failures: once a provider keeps failing the circuit opens and delivery
// attempts fail fast until a probe succeeds.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's position in its lifecycle.
//
// Closed passes everything through. Open rejects everything until the
// recovery timeout elapses, then HalfOpen lets a bounded number of
// probes through; one success closes the circuit, one failure reopens it.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrCircuitOpen is returned while the circuit rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name identifies this breaker (e.g. "ses", "push-gateway").
	Name string

	// MaxFailures is the consecutive-failure threshold before opening.
	MaxFailures int

	// RecoveryTimeout is how long to stay open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the probe budget in half-open state.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the deployment defaults for a named breaker.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// counters accumulate over the breaker's lifetime, across resets.
type counters struct {
	requests  int64
	successes int64
	failures  int64
	rejected  int64
}

// CircuitBreaker gates requests to one provider based on its recent
// failure streak.
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	streak      int       // consecutive failures in closed state
	lastFailure time.Time // when the streak last grew
	changedAt   time.Time
	probes      int // requests admitted while half-open
	totals      counters
}

// New creates a CircuitBreaker with the given configuration.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	return &CircuitBreaker{
		cfg:       cfg,
		logger:    logger,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// Name returns the breaker's configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.requests++

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cfg.RecoveryTimeout {
		cb.become(StateHalfOpen)
		cb.logger.Info("circuit breaker allowing probe request",
			zap.String("name", cb.cfg.Name),
		)
		return true
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxRequests {
			cb.probes++
			return true
		}
	}

	cb.totals.rejected++
	return false
}

// RecordSuccess clears the failure streak. A successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.successes++
	cb.streak = 0

	if cb.state == StateHalfOpen {
		cb.become(StateClosed)
		cb.logger.Info("circuit breaker closed, provider recovered",
			zap.String("name", cb.cfg.Name),
		)
	}
}

// RecordFailure grows the failure streak, opening the circuit at the
// threshold. A failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.failures++
	cb.streak++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.streak >= cb.cfg.MaxFailures {
			cb.become(StateOpen)
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.cfg.Name),
				zap.Int("failures", cb.streak),
				zap.Int("threshold", cb.cfg.MaxFailures),
			)
		}
	case StateHalfOpen:
		cb.become(StateOpen)
		cb.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", cb.cfg.Name),
		)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats holds a snapshot of the breaker's counters.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats returns a point-in-time snapshot for the operational surface.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		FailureCount:    cb.streak,
		TotalRequests:   cb.totals.requests,
		TotalFailures:   cb.totals.failures,
		TotalSuccesses:  cb.totals.successes,
		TotalRejected:   cb.totals.rejected,
		LastStateChange: cb.changedAt.Format(time.RFC3339),
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker back to closed. Operator override.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.become(StateClosed)
	cb.streak = 0

	cb.logger.Info("circuit breaker manually reset",
		zap.String("name", cb.cfg.Name),
	)
}

// become changes state; callers hold the lock. Entering half-open
// consumes the first probe slot, since the caller that triggered the
// transition proceeds.
func (cb *CircuitBreaker) become(next State) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.changedAt = time.Now()
	if next == StateHalfOpen {
		cb.probes = 1
	} else {
		cb.probes = 0
	}

	cb.logger.Debug("circuit breaker state transition",
		zap.String("name", cb.cfg.Name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.cfg.Name, cb.state, cb.streak, cb.cfg.MaxFailures)
}
