package aireply

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a Breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker
type BreakerConfig struct {
	FailureThreshold    int           // consecutive failures that open the breaker
	SuccessThreshold    int           // half-open successes that close it again
	Timeout             time.Duration // how long it stays open
	HalfOpenMaxRequests int
}

// DefaultBreakerConfig returns the settings used for the chat endpoint
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// Breaker is a consecutive-failure circuit breaker
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	halfOpenCalls int
	changedAt     time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now, changedAt: time.Now()}
}

// State returns the current state, applying any due transition
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.advance()
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxRequests {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	return err
}

func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.changedAt) >= b.cfg.Timeout {
		b.setState(StateHalfOpen)
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.setState(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
		}
	}
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) setState(s State) {
	b.state = s
	b.changedAt = b.now()
	b.halfOpenCalls = 0
	b.successes = 0
	if s == StateClosed {
		b.failures = 0
	}
}
