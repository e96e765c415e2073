// Package session maps local orders to provider invoices across repeated
// checkout-page visits.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session links an order to the invoice and access token issued for it. Once
// created for an order it is never overwritten: a second invoice must never be
// issued while a session exists.
type Session struct {
	OrderID     string `json:"orderId"`
	InvoiceID   string `json:"invoiceId"`
	AccessToken string `json:"accessToken"`
}

// Store persists invoice sessions keyed by order id.
type Store interface {
	Get(ctx context.Context, orderID string) (Session, bool, error)
	// PutIfAbsent stores the session unless one already exists for the order,
	// in which case the existing session is returned.
	PutIfAbsent(ctx context.Context, s Session) (Session, error)
	Delete(ctx context.Context, orderID string) error
}

// RedisStore implements Store on Redis, one key per order so concurrent orders
// in the same browsing session cannot clobber each other.
type RedisStore struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (s RedisStore) key(orderID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "invsess:"
	}
	return prefix + orderID
}

func (s RedisStore) Get(ctx context.Context, orderID string) (Session, bool, error) {
	raw, err := s.R.Get(ctx, s.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s RedisStore) PutIfAbsent(ctx context.Context, sess Session) (Session, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return Session{}, err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ok, err := s.R.SetNX(ctx, s.key(sess.OrderID), raw, ttl).Result()
	if err != nil {
		return Session{}, err
	}
	if ok {
		return sess, nil
	}
	existing, found, err := s.Get(ctx, sess.OrderID)
	if err != nil {
		return Session{}, err
	}
	if !found {
		return sess, nil
	}
	return existing, nil
}

func (s RedisStore) Delete(ctx context.Context, orderID string) error {
	return s.R.Del(ctx, s.key(orderID)).Err()
}
