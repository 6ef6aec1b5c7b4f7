package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"jax-advisor-core/internal/observability"
)

// RateLimitConfig bounds how many requests a single client IP may make.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	Enabled           bool
}

// DefaultRateLimitConfig matches the teacher's defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 100, RequestsPerHour: 1000, Enabled: true}
}

type clientBucket struct {
	mu              sync.Mutex
	minuteCount     int
	hourCount       int
	minuteResetTime time.Time
	hourResetTime   time.Time
}

// RateLimiter is an in-memory, per-client-IP fixed-window rate limiter.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.RWMutex
	clients map[string]*clientBucket
}

// NewRateLimiter builds a RateLimiter and starts its stale-entry cleanup
// loop. The loop runs for the life of the process; Stop is unnecessary
// since a RateLimiter lives as long as the server does.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{config: cfg, clients: make(map[string]*clientBucket)}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from clientIP should proceed, and if
// not, a human-readable reason.
func (rl *RateLimiter) Allow(clientIP string) (bool, string) {
	if !rl.config.Enabled {
		return true, ""
	}
	now := time.Now()

	rl.mu.RLock()
	bucket, exists := rl.clients[clientIP]
	rl.mu.RUnlock()
	if !exists {
		bucket = &clientBucket{minuteResetTime: now.Add(time.Minute), hourResetTime: now.Add(time.Hour)}
		rl.mu.Lock()
		rl.clients[clientIP] = bucket
		rl.mu.Unlock()
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if now.After(bucket.minuteResetTime) {
		bucket.minuteCount = 0
		bucket.minuteResetTime = now.Add(time.Minute)
	}
	if now.After(bucket.hourResetTime) {
		bucket.hourCount = 0
		bucket.hourResetTime = now.Add(time.Hour)
	}
	if bucket.minuteCount >= rl.config.RequestsPerMinute {
		return false, fmt.Sprintf("rate limit exceeded: %d requests per minute", rl.config.RequestsPerMinute)
	}
	if bucket.hourCount >= rl.config.RequestsPerHour {
		return false, fmt.Sprintf("rate limit exceeded: %d requests per hour", rl.config.RequestsPerHour)
	}
	bucket.minuteCount++
	bucket.hourCount++
	return true, ""
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		for ip, bucket := range rl.clients {
			bucket.mu.Lock()
			if now.After(bucket.minuteResetTime) && now.After(bucket.hourResetTime) {
				delete(rl.clients, ip)
			}
			bucket.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the limit, responding 429 when exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		allowed, reason := rl.Allow(ip)
		if !allowed {
			observability.Warn(r.Context(), "rate_limit_exceeded", map[string]any{"ip": ip, "path": r.URL.Path})
			http.Error(w, reason, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
