package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostedpay/internal/lock"
)

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 2 * time.Millisecond}
}

func TestWithLockMutualExclusion(t *testing.T) {
	l := newLocker(t)

	const workers = 6
	var inside, peak, total int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = l.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
				mu.Lock()
				inside++
				if inside > peak {
					peak = inside
				}
				total++
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, peak)
	require.Equal(t, workers, total)
}

func TestWithLockReleasesOnError(t *testing.T) {
	l := newLocker(t)

	sentinel := errors.New("boom")
	err := l.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// The lock must be free again for the next caller.
	err = l.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestWithLockRespectsContext(t *testing.T) {
	l := newLocker(t)

	release := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", time.Minute, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
