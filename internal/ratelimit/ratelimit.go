// Package ratelimit throttles checkout attempts per client using a Redis
// sliding window. The webhook endpoint is deliberately not limited: provider
// retries must never be turned away with a 429.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/hostedpay/internal/common"
)

// Limiter is a sliding-window counter backed by a Redis sorted set per key.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow records one event under key and reports whether the caller is still
// inside the window budget. A nil client or non-positive budget disables the
// limiter.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now()
	redisKey := l.Prefix + key

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", float64(now.Add(-window).UnixNano())))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, now.Add(window), err
	}

	current := int(countCmd.Val())
	remaining = max - current
	if remaining < 0 {
		remaining = 0
	}
	return current <= max, remaining, now.Add(window), nil
}

// Middleware enforces the limit keyed by KeyFunc before delegating. Limiter
// errors fail open: a Redis hiccup must not take checkout down with it.
type Middleware struct {
	Limiter Limiter
	KeyFunc func(*http.Request) string
	Window  time.Duration
	Max     int
	OnError func(error)
}

func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.KeyFunc == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, resetAt, err := m.Limiter.Allow(r.Context(), m.KeyFunc(r), m.Window, m.Max)
		if err != nil {
			if m.OnError != nil {
				m.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(m.Max))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, common.CodeValidationError, "too many checkout attempts", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
