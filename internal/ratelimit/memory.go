package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneEvery controls how often idle buckets are dropped.
const pruneEvery = 1024

type bucket struct {
	lim      *rate.Limiter
	limit    int
	lastSeen time.Time
}

// MemoryLimiter is a per-process token bucket limiter. Each key refills at
// limit tokens per Window with a burst of limit.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (m *MemoryLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%pruneEvery == 0 {
		m.prune(now)
	}

	b, ok := m.buckets[key]
	if !ok || b.limit != limit {
		b = &bucket{
			lim:   rate.NewLimiter(rate.Every(Window/time.Duration(limit)), limit),
			limit: limit,
		}
		m.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	// time until the bucket is full again
	interval := Window / time.Duration(limit)
	missing := float64(limit) - tokens
	resetAt := now.Add(time.Duration(missing * float64(interval)))
	return allowed, remaining, resetAt, nil
}

// prune drops buckets idle for longer than a window; they would be full.
func (m *MemoryLimiter) prune(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) > Window {
			delete(m.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
