package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Rejecting requests until the cool-down elapses
	StateHalfOpen              // Next call decides
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

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default: 5)
	CoolDown         time.Duration // how long to stay open (default: 30s)
	OnStateChange    func(from, to State)
}

// Breaker trips after consecutive failures and allows a probe once the
// cool-down elapses. A success in half-open closes it and clears the counter;
// a failure re-opens it.
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openUntil           time.Time
	failureThreshold    int
	coolDown            time.Duration
	onStateChange       func(from, to State)
	nowFn               func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		coolDown:         cfg.CoolDown,
		onStateChange:    cfg.OnStateChange,
		nowFn:            time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	if b.state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	b.consecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.trip()
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

func (b *Breaker) trip() {
	b.openUntil = b.nowFn().Add(b.coolDown)
	b.setState(StateOpen)
}

// advance moves open to half-open once the cool-down has elapsed.
func (b *Breaker) advance() {
	if b.state == StateOpen && !b.nowFn().Before(b.openUntil) {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.consecutiveFailures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
