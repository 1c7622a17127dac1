// Package ratelimit implements fixed-window rate limiting keyed by an
// arbitrary string, typically "<scope>:<guild>:<actor>". Buckets live in
// an LRU cache so abandoned keys age out on their own.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// Decision reports whether an event may proceed and, if not, how long
// until the current window resets.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// Limiter allows at most Burst events per Window for each key.
type Limiter struct {
	burst   int
	window  time.Duration
	buckets *lru.Cache[string, *bucket]
}

func New(burst int, window time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if window <= 0 {
		window = time.Second
	}
	cache, _ := lru.New[string, *bucket](defaultCacheSize)
	return &Limiter{burst: burst, window: window, buckets: cache}
}

// Check records an event for key at time now and reports whether it
// fits inside the current window.
func (l *Limiter) Check(key string, now time.Time) Decision {
	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{}
		if prev, found, _ := l.buckets.PeekOrAdd(key, b); found {
			b = prev
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= l.burst {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: l.window - now.Sub(b.windowStart),
		}
	}

	b.count++
	return Decision{Allowed: true, Remaining: l.burst - b.count}
}

// Reset clears the window for key so the next event is allowed again.
func (l *Limiter) Reset(key string) {
	l.buckets.Remove(key)
}
