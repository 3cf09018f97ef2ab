package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a token-bucket limiter per key (usually client IP).
// Idle limiters are dropped by a background sweep to bound memory.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	rps      rate.Limit
	burst    int
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing maxReqs requests per window,
// with a burst of maxReqs.
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		rps:      rate.Limit(float64(maxReqs) / window.Seconds()),
		burst:    maxReqs,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request for the key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	kl, ok := rl.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = kl
	}
	kl.lastSeen = time.Now()
	rl.mu.Unlock()

	return kl.limiter.Allow()
}

// cleanup drops limiters not seen for 10 minutes
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for key, kl := range rl.limiters {
			if kl.lastSeen.Before(cutoff) {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects requests above the per-key limit with 429
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey extracts the client IP for rate limiting
func IPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return "ip:" + strings.TrimSpace(ips[0])
	}
	return "ip:" + r.RemoteAddr
}
