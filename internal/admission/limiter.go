// Package admission bounds how many websocket connections the server holds.
package admission

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter hands out a fixed number of connection permits
type Limiter struct {
	maxConns int64
	sem      *semaphore.Weighted
	current  atomic.Int64
}

// NewLimiter creates a limiter with maxConns permits
func NewLimiter(maxConns int64) *Limiter {
	return &Limiter{
		maxConns: maxConns,
		sem:      semaphore.NewWeighted(maxConns),
	}
}

// TryAdmit takes a permit without blocking. A false result means the
// caller must reject the connection.
func (l *Limiter) TryAdmit() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.current.Add(1)
	return true
}

// Release returns a permit. It must be called exactly once per successful
// TryAdmit.
func (l *Limiter) Release() {
	l.current.Add(-1)
	l.sem.Release(1)
}

// Current returns the number of permits held
func (l *Limiter) Current() int64 {
	return l.current.Load()
}

// Max returns the permit count
func (l *Limiter) Max() int64 {
	return l.maxConns
}
