package middleware

import (
	"net/http"
	"sync"
	"time"

	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/netutil"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// IPLimiter is a per-client token bucket for expensive public endpoints.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

func NewIPLimiter(rps float64, burst int) *IPLimiter {
	return &IPLimiter{
		visitors: map[string]*limiterEntry{},
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	le, ok := l.visitors[ip]
	if !ok {
		le = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = le
	}
	le.last = now
	return le.limiter.AllowN(now, 1)
}

// Sweep drops clients idle for longer than the idle window.
func (l *IPLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.visitors {
		if time.Since(v.last) > l.idle {
			delete(l.visitors, k)
		}
	}
}

// Handler rejects callers that exhausted their bucket with 429.
func (l *IPLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(netutil.ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeEnvelopeError(w, r, http.StatusTooManyRequests, appErr.CodeUnavailable, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
