package store

import (
	"context"

	"github.com/google/uuid"
)

const orderColumns = `id, merchant_id, amount, currency, COALESCE(receipt, ''), COALESCE(notes, ''), status, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.MerchantID, &o.Amount, &o.Currency, &o.Receipt, &o.Notes, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, mapNoRows(err)
	}
	return o, nil
}

// InsertOrder persists a new order.
func (s *Store) InsertOrder(ctx context.Context, o Order) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO orders (id, merchant_id, amount, currency, receipt, notes, status)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
RETURNING `+orderColumns, o.ID, o.MerchantID, o.Amount, o.Currency, o.Receipt, o.Notes, OrderStatusCreated)
	return scanOrder(row)
}

// GetOrder fetches an order scoped to its owning merchant.
func (s *Store) GetOrder(ctx context.Context, id string, merchantID uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND merchant_id = $2`, id, merchantID)
	return scanOrder(row)
}

// OrderIDExists reports whether an order id is already taken.
func (s *Store) OrderIDExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrUnavailable
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
