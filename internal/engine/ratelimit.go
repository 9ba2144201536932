package engine

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter — фиксированное окно на токен. Состояние только в памяти.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     maxRequests,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Allow учитывает запрос. При отказе возвращает время до начала следующего окна.
func (l *RateLimiter) Allow(token string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[token]
	if !ok || !now.Before(b.resetAt) {
		l.buckets[token] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if b.count >= l.max {
		return false, b.resetAt.Sub(now)
	}
	b.count++
	return true, 0
}

// Sweep удаляет истёкшие окна и возвращает число удалённых.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for token, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, token)
			removed++
		}
	}
	return removed
}

// StartJanitor периодически вызывает Sweep до отмены ctx.
func (l *RateLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = l.window
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
