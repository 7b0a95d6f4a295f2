package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// slidingWindow is a single-key sliding-window counter.
type slidingWindow struct {
	events []time.Time
}

// allow drops events older than the window and admits one more if under limit.
// When refused it returns how long until the oldest event ages out.
func (w *slidingWindow) allow(now time.Time, limit int, window time.Duration) (bool, time.Duration) {
	cut := now.Add(-window)
	dst := w.events[:0]
	for _, t := range w.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	w.events = dst

	if len(w.events) >= limit {
		return false, w.events[0].Add(window).Sub(now)
	}
	w.events = append(w.events, now)
	return true, 0
}

// keyedLimiter applies one sliding window per key (client IP). It lives in
// process memory, so each replica throttles independently.
type keyedLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*slidingWindow
	sweptAt time.Time
}

func newKeyedLimiter(limit int, window time.Duration) *keyedLimiter {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &keyedLimiter{limit: limit, window: window, windows: make(map[string]*slidingWindow)}
}

// Allow reports whether key may proceed at now. An empty key is never limited.
func (l *keyedLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if key == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{events: make([]time.Time, 0, 4)}
		l.windows[key] = w
	}
	return w.allow(now, l.limit, l.window)
}

// sweep forgets keys whose newest event is outside the window, at most once per window.
func (l *keyedLimiter) sweep(now time.Time) {
	if now.Sub(l.sweptAt) < l.window {
		return
	}
	l.sweptAt = now
	cut := now.Add(-l.window)
	for k, w := range l.windows {
		if n := len(w.events); n == 0 || !w.events[n-1].After(cut) {
			delete(l.windows, k)
		}
	}
}

func (l *keyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
