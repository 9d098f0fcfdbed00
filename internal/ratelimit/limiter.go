// Package ratelimit limits requests per key with fixed-window buckets.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/hmdl/internal/clock"
)

// Limiter holds one bucket per key. All keys share the same limit.
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter allows limit requests per key in each interval.
func NewLimiter(limit int, interval time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    clk,
		buckets:  make(map[string]*bucket),
	}
}

// Allow takes a token for key and reports whether one was available.
// Buckets idle for more than an interval are dropped on the way.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.lastFill) >= l.interval {
		l.sweep(now)
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) >= l.interval {
			delete(l.buckets, key)
		}
	}
}
