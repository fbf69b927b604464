package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state
type State int32

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
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and lets a probe
// through once timeout has passed
type Breaker struct {
	maxFailures int64
	timeout     time.Duration
	mu          sync.RWMutex
	state       int32 // State (atomic)
	failures    int64 // consecutive failures (atomic)
	lastFailure time.Time

	onStateChange func(State)
}

// NewBreaker creates a new circuit breaker
func NewBreaker(maxFailures int64, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       int32(StateClosed),
	}
}

// OnStateChange registers fn to be called after every transition. Must be
// set before the breaker is shared.
func (b *Breaker) OnStateChange(fn func(State)) {
	b.onStateChange = fn
}

func (b *Breaker) transition(from, to State) bool {
	if !atomic.CompareAndSwapInt32(&b.state, int32(from), int32(to)) {
		return false
	}
	if b.onStateChange != nil {
		b.onStateChange(to)
	}
	return true
}

// Allow checks if the circuit breaker allows the request
func (b *Breaker) Allow() bool {
	switch b.State() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		b.mu.RLock()
		lastFailure := b.lastFailure
		b.mu.RUnlock()
		if time.Since(lastFailure) >= b.timeout && b.transition(StateOpen, StateHalfOpen) {
			atomic.StoreInt64(&b.failures, 0)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes a half-open breaker and resets the failure streak
func (b *Breaker) RecordSuccess() {
	atomic.StoreInt64(&b.failures, 0)
	b.transition(StateHalfOpen, StateClosed)
}

// RecordFailure counts a failure. A failed half-open probe reopens at once.
func (b *Breaker) RecordFailure() {
	failures := atomic.AddInt64(&b.failures, 1)
	b.mu.Lock()
	b.lastFailure = time.Now()
	b.mu.Unlock()

	if b.transition(StateHalfOpen, StateOpen) {
		return
	}
	if failures >= b.maxFailures {
		b.transition(StateClosed, StateOpen)
	}
}

// Execute runs fn when allowed and records its outcome
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state
func (b *Breaker) State() State {
	return State(atomic.LoadInt32(&b.state))
}
