// Copyright 2025 Joseph Cumines
//
// Token bucket rate limiter for HTTP transport

package transport

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements a token bucket. The bucket holds up to twice the
// per-second rate (at least one token) and starts full.
type RateLimiter struct {
	clock      func() time.Time
	lastUpdate time.Time
	rate       float64
	burst      float64
	tokens     float64
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter allowing requestsPerSecond on average.
// Returns nil if the rate is not positive, which disables limiting.
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerSecond, time.Now)
}

// NewRateLimiterWithClock creates a rate limiter with an injectable clock.
func NewRateLimiterWithClock(requestsPerSecond float64, clock func() time.Time) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := max(requestsPerSecond*2, 1)
	return &RateLimiter{
		rate:       requestsPerSecond,
		burst:      burst,
		tokens:     burst,
		lastUpdate: clock(),
		clock:      clock,
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	r.tokens = min(r.tokens+now.Sub(r.lastUpdate).Seconds()*r.rate, r.burst)
	r.lastUpdate = now

	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// Tokens returns the current number of available tokens, or -1 when the
// limiter is disabled.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// Middleware rejects requests with 429 Too Many Requests once the bucket is
// empty. A nil limiter passes everything through.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
