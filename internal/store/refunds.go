package store

import (
	"context"
)

const refundColumns = `id, payment_id, merchant_id, amount, COALESCE(reason, ''), status, processed_at, created_at`

func scanRefund(row interface{ Scan(dest ...any) error }) (Refund, error) {
	var r Refund
	err := row.Scan(&r.ID, &r.PaymentID, &r.MerchantID, &r.Amount, &r.Reason, &r.Status, &r.ProcessedAt, &r.CreatedAt)
	if err != nil {
		return Refund{}, mapNoRows(err)
	}
	return r, nil
}

// InsertRefund persists a new refund in pending state.
func (s *Store) InsertRefund(ctx context.Context, r Refund) (Refund, error) {
	if s == nil || s.pool == nil {
		return Refund{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO refunds (id, payment_id, merchant_id, amount, reason, status)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
RETURNING `+refundColumns, r.ID, r.PaymentID, r.MerchantID, r.Amount, r.Reason, RefundStatusPending)
	return scanRefund(row)
}

// GetRefund fetches a refund by ID.
func (s *Store) GetRefund(ctx context.Context, id string) (Refund, error) {
	if s == nil || s.pool == nil {
		return Refund{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
	return scanRefund(row)
}

// SumRefundedAmount totals all refunds recorded against a payment.
func (s *Store) SumRefundedAmount(ctx context.Context, paymentID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1`, paymentID).Scan(&total)
	return total, err
}

// MarkRefundProcessed records the terminal refund state with a processing
// timestamp.
func (s *Store) MarkRefundProcessed(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE refunds SET status = $1, processed_at = NOW() WHERE id = $2`, RefundStatusProcessed, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
