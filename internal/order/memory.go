package order

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local development. A
// single mutex stands in for the row locks the postgres store takes.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
	notes  map[string][]string
	stock  map[string]int
	carts  map[string]bool
}

// NewMemoryStore seeds a store with the provided orders.
func NewMemoryStore(orders ...Order) *MemoryStore {
	s := &MemoryStore{
		orders: make(map[string]Order, len(orders)),
		notes:  make(map[string][]string),
		stock:  make(map[string]int),
		carts:  make(map[string]bool),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
		s.carts[o.ID] = true
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) MarkOnHold(_ context.Context, id, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusOnHold
	s.orders[id] = o
	s.notes[id] = append(s.notes[id], note)
	return true, nil
}

func (s *MemoryStore) ApplyTerminal(_ context.Context, id string, to Status, note string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status.Terminal() {
		return false, nil
	}
	o.Status = to
	s.orders[id] = o
	s.notes[id] = append(s.notes[id], note)
	return true, nil
}

func (s *MemoryStore) DecrementStock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	for _, line := range o.Lines {
		s.stock[line.Name] -= line.Quantity
	}
	return nil
}

func (s *MemoryStore) ClearCart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	s.carts[id] = false
	return nil
}

// Notes returns the audit notes recorded for an order, oldest first.
func (s *MemoryStore) Notes(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes[id]...)
}

// StockDelta returns the cumulative stock adjustment recorded for a product.
func (s *MemoryStore) StockDelta(product string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[product]
}

// CartCleared reports whether the order's cart reference has been detached.
func (s *MemoryStore) CartCleared(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.carts[id]
}
