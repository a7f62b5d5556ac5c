// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards the gateway connect path with a circuit breaker.
package resilience

import (
	"errors"
	"sync"
	"time"

	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker counts consecutive failures and refuses calls for resetTimeout
// once threshold is reached. After the timeout a single probe is let through;
// its outcome closes or re-opens the breaker.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	lastErr      error
	clock        Clock
	recoverPanic bool
}

// Snapshot is a point-in-time view for health reporting.
type Snapshot struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Failures   int       `json:"failures"`
	OpenedAt   time.Time `json:"opened_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	RetryAfter string    `json:"retry_after,omitempty"`
}

type Option func(*CircuitBreaker)

func WithClock(c Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithPanicRecovery records a panic in the wrapped call as a failure before re-panicking.
func WithPanicRecovery(enabled bool) Option {
	return func(cb *CircuitBreaker) { cb.recoverPanic = enabled }
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall back
// to a threshold of 5 and a reset timeout of 60s.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}

	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetBreakerState(cb.name, string(cb.state))
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) (err error) {
	if !cb.allowRequest() {
		metrics.RecordBreakerRejected(cb.name)
		return ErrCircuitOpen
	}

	if cb.recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				cb.recordFailure(errors.New("panic"))
				panic(r)
			}
		}()
	}

	if err = fn(); err != nil {
		cb.recordFailure(err)
		return err
	}
	cb.recordSuccess()
	return nil
}

// RetryAfter reports how long until the breaker admits a probe. It is zero
// unless the breaker is open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	if wait := cb.resetTimeout - cb.clock.Now().Sub(cb.openedAt); wait > 0 {
		return wait
	}
	return 0
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.lastErr = nil
	cb.transitionTo(StateClosed, "")
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transitionTo(StateHalfOpen, "")
		cb.probing = true
		return true
	default:
		// one probe at a time
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastErr = err

	if cb.state == StateHalfOpen {
		cb.probing = false
		cb.transitionTo(StateOpen, "probe_failed")
		return
	}

	if cb.state == StateClosed && cb.failures >= cb.threshold {
		cb.transitionTo(StateOpen, "threshold")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.lastErr = nil
	cb.transitionTo(StateClosed, "")
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(next State, cause string) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	if next == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	metrics.SetBreakerState(cb.name, string(next))
	metrics.RecordBreakerTransition(cb.name, string(next), cause)

	logger := qlog.WithComponent("resilience")
	evt := logger.Info()
	if next == StateOpen {
		evt = logger.Warn()
	}
	evt.Str(qlog.FieldEvent, "breaker.transition").
		Str("breaker", cb.name).
		Str(qlog.FieldOldState, string(prev)).
		Str(qlog.FieldNewState, string(next)).
		Int("failures", cb.failures).
		Msg("circuit breaker state changed")
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the breaker state for reporting.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := Snapshot{
		Name:     cb.name,
		State:    cb.state,
		Failures: cb.failures,
	}
	if cb.lastErr != nil {
		s.LastError = cb.lastErr.Error()
	}
	if cb.state == StateOpen {
		s.OpenedAt = cb.openedAt
		if wait := cb.resetTimeout - cb.clock.Now().Sub(cb.openedAt); wait > 0 {
			s.RetryAfter = wait.Round(time.Second).String()
		}
	}
	return s
}
