package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by caller identity:
// client IP on public routes, project id behind auth. Key timestamp
// lists are pruned on access, and a full sweep runs at most once per
// window so idle keys do not accumulate between requests.
type RateLimiter struct {
	mu        sync.Mutex
	perKey    map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window
// for each key. A limit of zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		perKey:    make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

// Allow records a request for key and reports whether it fits the
// window. When it does not, the duration is the suggested wait before
// retrying.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}

	kept := pruneBefore(rl.perKey[key], cutoff)
	if len(kept) >= rl.limit {
		rl.perKey[key] = kept
		// A slot frees up when the oldest kept entry leaves the window.
		return false, kept[0].Add(rl.window).Sub(now)
	}

	rl.perKey[key] = append(kept, now)
	return true, 0
}

// pruneBefore drops timestamps at or before cutoff, reusing the
// backing array.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// sweep removes keys with no requests left in the window. Caller holds
// the lock.
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for key, ts := range rl.perKey {
		kept := pruneBefore(ts, cutoff)
		if len(kept) == 0 {
			delete(rl.perKey, key)
		} else {
			rl.perKey[key] = kept
		}
	}
}

// jsonRateLimited writes the 429 envelope with a Retry-After hint.
func jsonRateLimited(w http.ResponseWriter, retry time.Duration) {
	secs := int((retry + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": "too many requests",
		},
	})
}

// RateLimitByIP returns middleware that rate limits by client IP.
func RateLimitByIP(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := limiter.Allow(getClientIP(r))
			if !ok {
				jsonRateLimited(w, retry)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByProject returns middleware that rate limits by the
// token's project. Admin tokens fall back to the client IP so one
// noisy admin script cannot starve another.
func RateLimitByProject(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetProjectID(r.Context())
			if key == "" {
				key = getClientIP(r)
			}

			ok, retry := limiter.Allow(key)
			if !ok {
				jsonRateLimited(w, retry)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client address, preferring proxy headers.
func getClientIP(r *http.Request) string {
	// The first hop in X-Forwarded-For is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
