package middleware

import (
	"sync"
	"time"
)

type windowCount struct {
	start time.Time
	count int64
}

// localLimiter is the in-process fixed window counter used without Redis
type localLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowCount
	now     func() time.Time
	sweep   time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{windows: make(map[string]*windowCount), now: time.Now}
}

func (l *localLimiter) incr(key string, window time.Duration) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.sweep) > window {
		for k, w := range l.windows {
			if now.Sub(w.start) > window {
				delete(l.windows, k)
			}
		}
		l.sweep = now
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) > window {
		w = &windowCount{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count
}
