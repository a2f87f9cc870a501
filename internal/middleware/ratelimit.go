package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/halcyonlabs/deepresearch/internal/metrics"
)

// RateLimiter limits requests per client. With a Redis client it uses a
// fixed one-minute window shared across instances; without one it falls back
// to per-client in-process token buckets.
type RateLimiter struct {
	redis             *redis.Client // nil means in-process fallback
	logger            *zap.Logger
	requestsPerMinute int
	burst             int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter. redisClient may be nil.
func NewRateLimiter(redisClient *redis.Client, requestsPerMinute, burst int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		redis:             redisClient,
		logger:            logger,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		buckets:           make(map[string]*rate.Limiter),
	}
}

// Middleware returns the HTTP middleware function.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		allowed, remaining, resetAt := rl.check(r.Context(), key)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.requestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", key),
				zap.String("path", r.URL.Path),
			)
			metrics.RateLimitHits.Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", resetAt.Unix()-time.Now().Unix()))
			writeRateLimitError(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) check(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time) {
	if rl.redis != nil {
		return rl.checkRedis(ctx, key)
	}
	return rl.checkLocal(key)
}

// checkRedis uses INCR with expiry on a per-minute window key.
func (rl *RateLimiter) checkRedis(ctx context.Context, key string) (bool, int, time.Time) {
	now := time.Now()
	window := now.Truncate(time.Minute)
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, window.Unix())

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, time.Minute+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: availability beats throttling precision.
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		return true, rl.requestsPerMinute, window.Add(time.Minute)
	}

	count := incr.Val()
	remaining := rl.requestsPerMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.requestsPerMinute), remaining, window.Add(time.Minute)
}

// checkLocal uses a per-client token bucket.
func (rl *RateLimiter) checkLocal(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	limiter, ok := rl.buckets[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.requestsPerMinute)), rl.burst)
		rl.buckets[key] = limiter
	}
	rl.mu.Unlock()

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, time.Now().Add(time.Minute)
}

// clientKey identifies the caller: API key header when present, else remote
// IP.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func writeRateLimitError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"Rate limit exceeded","message":"Too many requests. Please retry after the rate limit window resets."}`))
}
