// Package ratelimit throttles inbound samples per key with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key, all sharing the same rate and burst.
type Limiter struct {
	mu    sync.RWMutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// New creates a limiter. A non-positive rps disables throttling.
func New(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

// Allow reports whether one event for key may pass now.
func (l *Limiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

// AllowAt reports whether one event for key may pass at t.
func (l *Limiter) AllowAt(key string, t time.Time) bool {
	if l.rps <= 0 {
		return true
	}
	return l.get(key).AllowN(t, 1)
}

// SetRate updates rate and burst for existing and future keys.
func (l *Limiter) SetRate(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps, l.burst = rps, burst
	for _, lim := range l.m {
		lim.SetLimit(rate.Limit(rps))
		lim.SetBurst(burst)
	}
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.m[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.m[key] = lim
	return lim
}
