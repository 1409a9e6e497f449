package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiter is how long an address may stay quiet before its limiter is dropped.
const idleLimiter = 2 * time.Hour

type ipLimiter struct {
	limiter    *rate.Limiter
	lastActive time.Time
}

// IPLimiter rate limits requests per client address.
type IPLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	m         map[string]*ipLimiter
	now       func() time.Time
	lastSweep time.Time
}

// NewIPLimiter allows perSecond requests per address with the given burst.
// A non-positive perSecond disables limiting.
func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		m:     make(map[string]*ipLimiter),
		now:   time.Now,
	}
}

// SetLimit changes the budget for addresses seen from now on and drops the
// existing limiters.
func (l *IPLimiter) SetLimit(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = rate.Limit(perSecond)
	l.burst = burst
	l.m = make(map[string]*ipLimiter)
}

// Allow reports whether a request from ip may proceed.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	if l.limit <= 0 {
		l.mu.Unlock()
		return true
	}
	now := l.now()
	if now.Sub(l.lastSweep) > idleLimiter {
		for k, v := range l.m {
			if now.Sub(v.lastActive) > idleLimiter {
				delete(l.m, k)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.m[ip]
	if !ok {
		e = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.m[ip] = e
	}
	e.lastActive = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Middleware answers 429 once an address exceeds its budget.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
