// Package order defines the order-store collaborator the gateway reconciles
// against. The store owns the order lifecycle; the gateway only reads order
// fields and requests monotone status transitions.
package order

import (
	"context"
	"errors"
)

// Status enumerates the order states the gateway can observe or request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOnHold    Status = "on-hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further payment-driven transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Line is a single ordered item. Total and Tax are major-unit decimals.
type Line struct {
	Name     string
	Quantity int
	Total    float64
	Tax      float64
}

// Order is the subset of the store's order record the gateway reads.
type Order struct {
	ID            string
	Currency      string
	Total         float64
	ShippingTotal float64
	ShippingTax   float64
	Lines         []Line
	Status        Status
}

// ErrNotFound is returned when no order exists for the given identifier.
var ErrNotFound = errors.New("order not found")

// Store is the order-store surface the gateway depends on. Implementations must
// make the read-status/transition sequence atomic per order: two concurrent
// webhook deliveries must not both observe a non-terminal status and both apply
// a transition.
type Store interface {
	// Get returns the order record, or ErrNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// MarkOnHold transitions pending → on-hold with an audit note attached.
	// Reports false without error when the order already left pending.
	MarkOnHold(ctx context.Context, id, note string) (bool, error)
	// ApplyTerminal transitions a non-terminal order to the given terminal
	// status with an audit note attached. Reports false without error when the
	// order is already terminal, so duplicate webhook deliveries are no-ops.
	ApplyTerminal(ctx context.Context, id string, to Status, note string) (bool, error)
	// DecrementStock reduces product stock by the ordered line quantities.
	DecrementStock(ctx context.Context, id string) error
	// ClearCart detaches the buyer's cart from the order after checkout begins.
	ClearCart(ctx context.Context, id string) error
}
