package httpx

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces requests at a fixed minimum interval. Safe for concurrent
// use; callers are delayed, never rejected.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter returns a limiter enforcing rps requests per second.
// rps <= 0 means unlimited.
func NewLimiter(rps float64) *Limiter {
	l := &Limiter{
		now:   time.Now,
		sleep: sleepContext,
	}
	if rps > 0 {
		l.interval = time.Duration(float64(time.Second) / rps)
	}
	return l
}

// Wait blocks until the caller may issue the next request or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	if l.next.Before(now) {
		l.next = now
	}
	wait := l.next.Sub(now)
	l.next = l.next.Add(l.interval)
	l.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, wait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
