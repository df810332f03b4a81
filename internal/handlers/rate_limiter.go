package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brightatelier/commerce-api/internal/platform/httpx"
)

type requestLimiter interface {
	Allow(key string) bool
}

// windowLimiter admits up to limit requests per key in each fixed window.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]limiterWindow
}

type limiterWindow struct {
	hits    int
	expires time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) requestLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]limiterWindow),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.expires) {
		l.evictExpiredLocked(now)
		l.windows[key] = limiterWindow{hits: 1, expires: now.Add(l.window)}
		return true
	}
	if current.hits >= l.limit {
		return false
	}
	current.hits++
	l.windows[key] = current
	return true
}

func (l *windowLimiter) evictExpiredLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, key)
		}
	}
}

// limitByClient rejects requests beyond the limiter's budget with 429. RealIP middleware has
// already rewritten RemoteAddr when the router runs behind a proxy.
func limitByClient(limiter requestLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
