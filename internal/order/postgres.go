package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of pgx. Status transitions lock the
// order row (SELECT ... FOR UPDATE) so concurrent webhook deliveries cannot
// both observe a non-terminal status and both apply a transition.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	var o Order
	err := s.Pool.QueryRow(ctx,
		`SELECT id, currency, total, shipping_total, shipping_tax, status
		   FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Currency, &o.Total, &o.ShippingTotal, &o.ShippingTax, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT name, quantity, total, tax FROM order_lines WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return Order{}, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.Name, &l.Quantity, &l.Total, &l.Tax); err != nil {
			return Order{}, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("list order lines: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) MarkOnHold(ctx context.Context, id, note string) (bool, error) {
	return s.transition(ctx, id, note, func(current Status) (Status, bool) {
		if current != StatusPending {
			return current, false
		}
		return StatusOnHold, true
	})
}

func (s *PostgresStore) ApplyTerminal(ctx context.Context, id string, to Status, note string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", to)
	}
	return s.transition(ctx, id, note, func(current Status) (Status, bool) {
		if current.Terminal() {
			return current, false
		}
		return to, true
	})
}

func (s *PostgresStore) transition(ctx context.Context, id, note string, step func(Status) (Status, bool)) (bool, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock order: %w", err)
	}
	next, ok := step(current)
	if !ok {
		return false, nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, next); err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, note); err != nil {
		return false, fmt.Errorf("attach order note: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) DecrementStock(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE products p
		    SET stock = p.stock - l.quantity
		   FROM order_lines l
		  WHERE l.order_id = $1 AND p.name = l.name`, id)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearCart(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE orders SET cart_id = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
