// Package lock provides a Redis-backed mutual exclusion primitive used to
// serialise invoice creation per order.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker acquires short-lived distributed locks keyed by arbitrary strings.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// releaseScript deletes the lock only when it is still owned by the caller's
// token, so an expired lock re-acquired by another holder is never released.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// WithLock runs fn while holding the lock for key, releasing it afterwards
// even when fn fails. Acquisition retries until the context is cancelled.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				_ = l.R.Eval(context.Background(), releaseScript, []string{key}, token).Err()
			}()
			return fn(ctx)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
