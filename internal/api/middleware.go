package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/metrics"
	"github.com/tailhq/courier/internal/redis"
)

// KeyFunc derives the rate-limit bucket for a request. An empty key
// exempts the request.
type KeyFunc func(*http.Request) string

// IPKeyFunc buckets requests by caller IP, trusting proxy headers when
// present.
func IPKeyFunc(r *http.Request) string {
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP"} {
		if ip := r.Header.Get(header); ip != "" {
			return "ip:" + ip
		}
	}
	return "ip:" + r.RemoteAddr
}

// RateLimitMiddleware enforces the Redis sliding-window limiter on every
// request. A nil limiter or a failed limiter check lets the request
// through; throttling must not take the API down with it.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(result.Remaining+1))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if result.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimitRejection()
			h.Set("Retry-After", strconv.Itoa(int(time.Until(result.ResetAt).Seconds())))
			h.Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(ErrorResponse{
				Type:   "rate_limit_exceeded",
				Title:  "Too Many Requests",
				Status: http.StatusTooManyRequests,
				Detail: "Rate limit exceeded. Please retry after the specified time.",
			})
		})
	}
}
