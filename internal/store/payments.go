package store

import (
	"context"

	"github.com/google/uuid"
)

const paymentColumns = `id, order_id, merchant_id, amount, currency, method, status,
COALESCE(vpa, ''), COALESCE(card_network, ''), COALESCE(card_last4, ''), captured,
error_code, error_description, created_at, updated_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.MerchantID, &p.Amount, &p.Currency, &p.Method, &p.Status,
		&p.VPA, &p.CardNetwork, &p.CardLast4, &p.Captured,
		&p.ErrorCode, &p.ErrorDescription, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, mapNoRows(err)
	}
	return p, nil
}

// InsertPayment persists a new payment in pending state.
func (s *Store) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	if s == nil || s.pool == nil {
		return Payment{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO payments (id, order_id, merchant_id, amount, currency, method, status, vpa, card_network, card_last4)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))
RETURNING `+paymentColumns,
		p.ID, p.OrderID, p.MerchantID, p.Amount, p.Currency, p.Method, PaymentStatusPending, p.VPA, p.CardNetwork, p.CardLast4)
	return scanPayment(row)
}

// GetPayment fetches a payment by ID.
func (s *Store) GetPayment(ctx context.Context, id string) (Payment, error) {
	if s == nil || s.pool == nil {
		return Payment{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetPaymentForMerchant fetches a payment scoped to its owning merchant.
func (s *Store) GetPaymentForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (Payment, error) {
	if s == nil || s.pool == nil {
		return Payment{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND merchant_id = $2`, id, merchantID)
	return scanPayment(row)
}

// ListPaymentsByMerchant returns the merchant's payments newest first.
func (s *Store) ListPaymentsByMerchant(ctx context.Context, merchantID uuid.UUID) ([]Payment, error) {
	if s == nil || s.pool == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE merchant_id = $1 ORDER BY created_at DESC`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]Payment, 0, 16)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// SettlePayment records the terminal outcome for a payment. The guard on the
// current status keeps re-delivered settlement jobs from rewriting a terminal
// row.
func (s *Store) SettlePayment(ctx context.Context, id, status string, errorCode, errorDescription *string) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE payments SET status = $1, error_code = $2, error_description = $3, updated_at = NOW()
WHERE id = $4 AND status NOT IN ($5, $6)`,
		status, errorCode, errorDescription, id, PaymentStatusSuccess, PaymentStatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCaptured flips the captured flag on a successful payment.
func (s *Store) MarkCaptured(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE payments SET captured = true, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MerchantStats summarises a merchant's transaction volume.
type MerchantStats struct {
	TotalTransactions int64 `json:"total_transactions"`
	TotalAmount       int64 `json:"total_amount"`
	SuccessRate       int64 `json:"success_rate"`
}

// GetMerchantStats aggregates payment counts and captured volume.
func (s *Store) GetMerchantStats(ctx context.Context, merchantID uuid.UUID) (MerchantStats, error) {
	var stats MerchantStats
	if s == nil || s.pool == nil {
		return stats, ErrUnavailable
	}
	var successCount int64
	err := s.pool.QueryRow(ctx, `SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN status = $2 THEN amount ELSE 0 END), 0),
    COUNT(*) FILTER (WHERE status = $2)
FROM payments WHERE merchant_id = $1`, merchantID, PaymentStatusSuccess).
		Scan(&stats.TotalTransactions, &stats.TotalAmount, &successCount)
	if err != nil {
		return stats, err
	}
	if stats.TotalTransactions > 0 {
		stats.SuccessRate = (successCount*100 + stats.TotalTransactions/2) / stats.TotalTransactions
	}
	return stats, nil
}
