package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/metrics"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiter implements sliding window rate limiting over Redis.
// When Redis is not configured the limiter is a pass-through.
type RateLimiter struct {
	client *redis.Client
	limits map[string]RateLimit
	logger zerolog.Logger
}

// NewRateLimiter creates a new rate limiter. The admin recompute route
// carries the strictest limit: it is the only operation that scans a
// whole conversation's ledger.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /messages":       {60, time.Minute, userKey},
			"GET /conversations":   {120, time.Minute, userKey},
			"GET /messages/search": {30, time.Minute, userKey},
			"GET /messages/unread": {120, time.Minute, userKey},
			"POST /admin/":         {5, time.Minute, userKey},
		},
	}
}

// userKey returns a rate limit key based on the authenticated user,
// falling back to client IP before authentication ran.
func userKey(r *http.Request) string {
	if p := GetPrincipal(r.Context()); p != nil {
		return "ratelimit:user:" + p.UserID.String()
	}
	return "ratelimit:ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement checks the rate limit and increments the counter.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	windowKey := fmt.Sprintf("%s:%d", key, now.Unix()/int64(window.Seconds()))

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, windowKey, window*2)
	_, _ = pipe.Exec(ctx)

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}

	return count < int64(limit), remaining, now.Add(window)
}

// matchLimit finds the configured limit for a request, if any.
func (rl *RateLimiter) matchLimit(r *http.Request) (RateLimit, string, bool) {
	exact := r.Method + " " + r.URL.Path
	if limit, ok := rl.limits[exact]; ok {
		return limit, exact, true
	}
	for pattern, limit := range rl.limits {
		method, prefix, found := strings.Cut(pattern, " ")
		if !found || method != r.Method {
			continue
		}
		if strings.HasSuffix(prefix, "/") && strings.HasPrefix(r.URL.Path, prefix) {
			return limit, pattern, true
		}
	}
	return RateLimit{}, "", false
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit, pattern, ok := rl.matchLimit(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), key, limit.Requests, limit.Window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			metrics.RateLimitHits.WithLabelValues(pattern).Inc()
			rl.logger.Warn().
				Str("key", key).
				Str("endpoint", pattern).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.FormatInt(int64(limit.Window.Seconds()), 10))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
