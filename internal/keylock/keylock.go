// Package keylock provides per-key mutual exclusion with deadlock-free
// acquisition of two keys.
package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/SkynetNext/game-server/internal/metrics"
)

// Manager hands out one binary semaphore per key. Semaphores are created on
// first use and never removed, so the table grows with the number of
// distinct keys ever locked.
type Manager struct {
	locks sync.Map // string -> *semaphore.Weighted
}

// NewManager creates an empty lock table
func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) lockFor(key string) *semaphore.Weighted {
	if v, ok := m.locks.Load(key); ok {
		return v.(*semaphore.Weighted)
	}
	v, _ := m.locks.LoadOrStore(key, semaphore.NewWeighted(1))
	return v.(*semaphore.Weighted)
}

// Guard releases the locks taken by one acquisition. Release is safe to
// call any number of times; only the first call has an effect.
type Guard struct {
	released atomic.Bool
	sems     []*semaphore.Weighted
}

// Release unlocks in reverse acquisition order
func (g *Guard) Release() {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return
	}
	for i := len(g.sems) - 1; i >= 0; i-- {
		g.sems[i].Release(1)
	}
}

// AcquireOne blocks until key is free or ctx is done
func (m *Manager) AcquireOne(ctx context.Context, key string) (*Guard, error) {
	start := time.Now()
	sem := m.lockFor(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.LockWait.WithLabelValues("one").Observe(time.Since(start).Seconds())
	return &Guard{sems: []*semaphore.Weighted{sem}}, nil
}

// AcquireOrderedPair locks both keys, always taking the lexicographically
// lower key first so that callers passing the same pair in opposite order
// cannot wait on each other. Equal keys lock once.
//
// If the second acquisition fails the first lock is released before the
// error is returned.
func (m *Manager) AcquireOrderedPair(ctx context.Context, keyA, keyB string) (*Guard, error) {
	if keyA == keyB {
		return m.AcquireOne(ctx, keyA)
	}

	start := time.Now()
	first, second := Order(keyA, keyB)

	firstSem := m.lockFor(first)
	if err := firstSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	secondSem := m.lockFor(second)
	if err := secondSem.Acquire(ctx, 1); err != nil {
		firstSem.Release(1)
		return nil, err
	}

	metrics.LockWait.WithLabelValues("pair").Observe(time.Since(start).Seconds())
	return &Guard{sems: []*semaphore.Weighted{firstSem, secondSem}}, nil
}

// Order returns the two keys in acquisition order
func Order(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Len returns the number of keys ever locked
func (m *Manager) Len() int {
	n := 0
	m.locks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
