package ratelimit

import (
	"sync"
	"time"

	"github.com/smallbiznis/surge/internal/clock"
)

// WindowLimiter is an in-process fixed window counter. It is used when redis
// is not configured, so limits are per replica.
type WindowLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window
	sweeps  int
}

type window struct {
	start time.Time
	count int
}

func NewWindowLimiter(clk clock.Clock) *WindowLimiter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &WindowLimiter{
		clock:   clk,
		windows: make(map[string]*window),
	}
}

func (l *WindowLimiter) Allow(key string, limit int, size time.Duration) *RateLimitResult {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweeps++
	if l.sweeps%256 == 0 {
		for k, w := range l.windows {
			if now.Sub(w.start) >= size {
				delete(l.windows, k)
			}
		}
	}

	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= size {
		w = &window{start: now}
		l.windows[key] = w
	}
	reset := w.start.Add(size)

	if w.count >= limit {
		return &RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
		}
	}
	w.count++
	return &RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetTime: reset,
	}
}
