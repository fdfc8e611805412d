package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hedgeline/observability"
)

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	limit    RateLimit
	idle     time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter constructs a limiter. A non-positive rate disables limiting.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		idle:     5 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Middleware answers 429 once a client exhausts its bucket.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(clientID(r)) {
			observability.ModuleMetrics().RecordThrottle("perpd", "rate_limit")
			writeError(w, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	entry, ok := l.visitors[id]
	if !ok {
		burst := l.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(l.limit.RequestsPerMinute/60.0), burst)}
		l.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// evict drops buckets idle for longer than l.idle. Callers hold l.mu.
func (l *RateLimiter) evict(now time.Time) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
