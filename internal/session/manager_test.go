package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostedpay/internal/invoice"
	"github.com/noah-isme/hostedpay/internal/lock"
	"github.com/noah-isme/hostedpay/internal/order"
	"github.com/noah-isme/hostedpay/internal/session"
)

type stubCreator struct {
	calls int32
	err   error
}

func (c *stubCreator) CreateInvoice(_ context.Context, req invoice.Request) (invoice.Session, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return invoice.Session{}, c.err
	}
	return invoice.Session{InvoiceID: "inv-" + req.Metadata.OrderID, AccessToken: "tok"}, nil
}

func newManager(t *testing.T, creator *stubCreator) *session.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &session.Manager{
		Store:    session.RedisStore{R: client, TTL: time.Hour},
		Locks:    lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		Invoices: creator,
		Builder:  invoice.Builder{ShopID: 42, CMS: "storefront", Module: "hostedpay", Plugin: "hostedpay-gateway", Version: "1.0"},
		LockTTL:  time.Second,
		Logger:   zerolog.Nop(),
	}
}

func testOrder() order.Order {
	return order.Order{ID: "order-1", Currency: "RUB", Total: 19.99, Status: order.StatusPending}
}

func TestGetOrCreateReusesSession(t *testing.T) {
	creator := &stubCreator{}
	m := newManager(t, creator)

	first, err := m.GetOrCreate(context.Background(), testOrder())
	require.NoError(t, err)
	second, err := m.GetOrCreate(context.Background(), testOrder())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), atomic.LoadInt32(&creator.calls))
}

func TestGetOrCreateConcurrentSingleInvoice(t *testing.T) {
	creator := &stubCreator{}
	m := newManager(t, creator)

	const workers = 8
	sessions := make([]session.Session, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = m.GetOrCreate(context.Background(), testOrder())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&creator.calls))
	for _, s := range sessions {
		require.Equal(t, sessions[0], s)
	}
}

func TestGetOrCreateProviderFailureNotCached(t *testing.T) {
	creator := &stubCreator{err: errors.New("provider down")}
	m := newManager(t, creator)

	_, err := m.GetOrCreate(context.Background(), testOrder())
	require.Error(t, err)

	// Failure must not leave a partial session behind.
	creator.err = nil
	s, err := m.GetOrCreate(context.Background(), testOrder())
	require.NoError(t, err)
	require.Equal(t, "inv-order-1", s.InvoiceID)
	require.Equal(t, int32(2), atomic.LoadInt32(&creator.calls))
}

func TestForgetClearsSession(t *testing.T) {
	creator := &stubCreator{}
	m := newManager(t, creator)

	_, err := m.GetOrCreate(context.Background(), testOrder())
	require.NoError(t, err)
	require.NoError(t, m.Forget(context.Background(), "order-1"))

	_, err = m.GetOrCreate(context.Background(), testOrder())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&creator.calls))
}
