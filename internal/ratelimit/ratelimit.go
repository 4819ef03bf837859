// Package ratelimit implements fixed-window request limiting keyed by an
// arbitrary string. The memory store serves a single process; the Redis
// store shares windows between instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// sweepThreshold is the table size that forces a sweep of expired windows
	sweepThreshold = 1000
	sweepInterval  = 60 * time.Second
)

// Decision is the outcome of one Allow call
type Decision struct {
	OK        bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects a hit for key within a fixed window
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in a process-local table
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow never returns an error
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(now)

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(window)}
		l.buckets[key] = b
		return Decision{OK: true, Remaining: max(0, limit-1), ResetAt: b.resetAt}, nil
	}

	if b.count >= limit {
		return Decision{OK: false, Remaining: 0, ResetAt: b.resetAt}, nil
	}

	b.count++
	return Decision{OK: true, Remaining: max(0, limit-b.count), ResetAt: b.resetAt}, nil
}

// Len reports the number of tracked windows
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MemoryLimiter) maybeSweep(now time.Time) {
	if len(l.buckets) <= sweepThreshold && now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}
