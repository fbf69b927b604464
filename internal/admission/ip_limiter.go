package admission

import (
	"sync"
	"time"
)

// IPLimiter limits connections per remote IP. Zero limits disable the
// corresponding check.
type IPLimiter struct {
	maxConnsPerIP int
	rateLimit     int // new connections per second per IP

	mu          sync.Mutex
	ipConns     map[string]int64
	ipRates     map[string][]time.Time
	lastCleanup time.Time
}

// NewIPLimiter creates a per-IP limiter
func NewIPLimiter(maxConnsPerIP, rateLimit int) *IPLimiter {
	return &IPLimiter{
		maxConnsPerIP: maxConnsPerIP,
		rateLimit:     rateLimit,
		ipConns:       make(map[string]int64),
		ipRates:       make(map[string][]time.Time),
		lastCleanup:   time.Now(),
	}
}

// Allow reserves a slot for ip
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > 5*time.Minute {
		l.cleanup(now)
		l.lastCleanup = now
	}

	if l.maxConnsPerIP > 0 && l.ipConns[ip] >= int64(l.maxConnsPerIP) {
		return false
	}

	if l.rateLimit > 0 {
		recent := pruneBefore(l.ipRates[ip], now.Add(-time.Second))
		if len(recent) >= l.rateLimit {
			l.ipRates[ip] = recent
			return false
		}
		l.ipRates[ip] = append(recent, now)
	}

	l.ipConns[ip]++
	return true
}

// Release frees the slot taken by a successful Allow
func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count, ok := l.ipConns[ip]; ok && count > 0 {
		if count == 1 {
			delete(l.ipConns, ip)
		} else {
			l.ipConns[ip] = count - 1
		}
	}
}

// Stats returns the open connection count and the connections accepted in
// the last second for ip
func (l *IPLimiter) Stats(ip string) (connCount int64, rateCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ipConns[ip], len(pruneBefore(l.ipRates[ip], time.Now().Add(-time.Second)))
}

func (l *IPLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-time.Second)
	for ip, ts := range l.ipRates {
		if _, open := l.ipConns[ip]; !open && len(pruneBefore(ts, cutoff)) == 0 {
			delete(l.ipRates, ip)
		}
	}
}

// pruneBefore drops timestamps not after cutoff, in place
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	valid := 0
	for _, t := range ts {
		if t.After(cutoff) {
			ts[valid] = t
			valid++
		}
	}
	return ts[:valid]
}
