package handlers

import (
	"sync"
	"time"
)

type rateEntry struct {
	count   int
	resetAt time.Time
}

// simpleRateLimiter is an in-memory fixed-window limiter keyed by caller.
// Counters are process-local; a multi-instance deployment rate limits per
// instance.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]rateEntry
}

func newSimpleRateLimiter(limit int, window time.Duration) *simpleRateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &simpleRateLimiter{
		limit:  limit,
		window: window,
		clock:  time.Now,
		store:  make(map[string]rateEntry),
	}
}

// Allow reports whether the key may perform another request in the current
// window and records the attempt when it may.
func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil || key == "" {
		return true
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.resetAt) {
		l.store[key] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}
