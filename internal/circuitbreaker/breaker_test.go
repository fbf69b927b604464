package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_StateTransitions(t *testing.T) {
	breaker := NewBreaker(3, 100*time.Millisecond)
	assert.Equal(t, StateClosed, breaker.State())

	breaker.RecordFailure()
	breaker.RecordFailure()
	assert.Equal(t, StateClosed, breaker.State(), "two failures stay closed")

	breaker.RecordFailure()
	assert.Equal(t, StateOpen, breaker.State())

	time.Sleep(150 * time.Millisecond)

	assert.True(t, breaker.Allow(), "timeout elapsed, probe allowed")
	assert.Equal(t, StateHalfOpen, breaker.State())

	breaker.RecordSuccess()
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreaker_OpenState(t *testing.T) {
	breaker := NewBreaker(2, time.Hour)
	breaker.RecordFailure()
	breaker.RecordFailure()

	assert.False(t, breaker.Allow())
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	breaker := NewBreaker(2, time.Hour)
	breaker.RecordFailure()
	breaker.RecordSuccess()
	breaker.RecordFailure()

	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker := NewBreaker(3, 10*time.Millisecond)
	for i := 0; i < 3; i++ {
		breaker.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	assert.True(t, breaker.Allow())

	breaker.RecordFailure()
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreaker_Execute(t *testing.T) {
	var states []State
	breaker := NewBreaker(1, time.Hour)
	breaker.OnStateChange(func(s State) { states = append(states, s) })

	boom := errors.New("boom")
	assert.ErrorIs(t, breaker.Execute(func() error { return boom }), boom)
	assert.ErrorIs(t, breaker.Execute(func() error { return nil }), ErrOpen)
	assert.Equal(t, []State{StateOpen}, states)
}
