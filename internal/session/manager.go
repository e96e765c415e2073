package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/hostedpay/internal/invoice"
	"github.com/noah-isme/hostedpay/internal/lock"
	"github.com/noah-isme/hostedpay/internal/order"
)

// InvoiceCreator is the provider surface the manager needs.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req invoice.Request) (invoice.Session, error)
}

// Manager reconciles an order with its provider invoice: at most one invoice
// is ever created per order, and repeat visits reuse the stored session.
type Manager struct {
	Store    Store
	Locks    lock.Locker
	Invoices InvoiceCreator
	Builder  invoice.Builder
	LockTTL  time.Duration
	Logger   zerolog.Logger
}

// GetOrCreate returns the invoice session for the order, creating the invoice
// on first visit. The create path runs under a per-order lock so concurrent
// checkout-page reloads cannot race into issuing two invoices. Provider
// failures propagate without caching a partial session.
func (m *Manager) GetOrCreate(ctx context.Context, o order.Order) (Session, error) {
	ctx, span := otel.Tracer("session.Manager").Start(ctx, "SessionManager.GetOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", o.ID))

	if sess, ok, err := m.Store.Get(ctx, o.ID); err != nil {
		return Session{}, err
	} else if ok {
		span.AddEvent("session reused")
		return sess, nil
	}

	var created Session
	err := m.Locks.WithLock(ctx, "invlock:"+o.ID, m.LockTTL, func(ctx context.Context) error {
		// Re-check under the lock: another request may have created the
		// session while this one waited.
		if sess, ok, err := m.Store.Get(ctx, o.ID); err != nil {
			return err
		} else if ok {
			created = sess
			return nil
		}
		req, err := m.Builder.Build(o)
		if err != nil {
			return err
		}
		provSess, err := m.Invoices.CreateInvoice(ctx, req)
		if err != nil {
			return err
		}
		created, err = m.Store.PutIfAbsent(ctx, Session{
			OrderID:     o.ID,
			InvoiceID:   provSess.InvoiceID,
			AccessToken: provSess.AccessToken,
		})
		if err != nil {
			return err
		}
		m.Logger.Info().
			Str("order_id", o.ID).
			Str("invoice_id", created.InvoiceID).
			Msg("invoice session created")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Session{}, err
	}
	return created, nil
}

// Forget drops the session marker for an order, used once the buyer returns
// from the hosted form.
func (m *Manager) Forget(ctx context.Context, orderID string) error {
	return m.Store.Delete(ctx, orderID)
}
