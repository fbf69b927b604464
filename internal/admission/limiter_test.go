package admission

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_TryAdmit(t *testing.T) {
	limiter := NewLimiter(10)

	require.True(t, limiter.TryAdmit())
	assert.Equal(t, int64(1), limiter.Current())

	limiter.Release()
	assert.Equal(t, int64(0), limiter.Current())
	assert.Equal(t, int64(10), limiter.Max())
}

func TestLimiter_MaxConnections(t *testing.T) {
	limiter := NewLimiter(5)

	for i := 0; i < 5; i++ {
		require.True(t, limiter.TryAdmit(), "connection %d", i)
	}
	assert.False(t, limiter.TryAdmit(), "sixth connection must be rejected")

	limiter.Release()
	assert.True(t, limiter.TryAdmit())
}

func TestLimiter_ConcurrentNeverExceedsMax(t *testing.T) {
	limiter := NewLimiter(100)
	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		peak     atomic.Int64
	)

	hold := make(chan struct{})
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !limiter.TryAdmit() {
				return
			}
			n := admitted.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-hold
			admitted.Add(-1)
			limiter.Release()
		}()
	}
	close(hold)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(100))
	assert.Equal(t, int64(0), limiter.Current())
}

func TestIPLimiter_MaxPerIP(t *testing.T) {
	l := NewIPLimiter(2, 0)

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	l.Release("1.1.1.1")
	assert.True(t, l.Allow("1.1.1.1"))

	conns, _ := l.Stats("1.1.1.1")
	assert.Equal(t, int64(2), conns)
}

func TestIPLimiter_Rate(t *testing.T) {
	l := NewIPLimiter(0, 3)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("1.1.1.1"))
	}
	assert.False(t, l.Allow("1.1.1.1"))

	_, rate := l.Stats("1.1.1.1")
	assert.Equal(t, 3, rate)
}

func TestIPLimiter_Unlimited(t *testing.T) {
	l := NewIPLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("1.1.1.1"))
	}
	l.Release("9.9.9.9")
}
