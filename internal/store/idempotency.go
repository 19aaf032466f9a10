package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GetIdempotencyRecord looks up a cached payment-creation response. Expired
// records are deleted lazily and reported as ErrNotFound so the caller runs
// the request as new.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string, merchantID uuid.UUID) (IdempotencyRecord, error) {
	if s == nil || s.pool == nil {
		return IdempotencyRecord{}, ErrUnavailable
	}
	var rec IdempotencyRecord
	err := s.pool.QueryRow(ctx, `SELECT key, merchant_id, response, expires_at FROM idempotency_keys WHERE key = $1 AND merchant_id = $2`, key, merchantID).
		Scan(&rec.Key, &rec.MerchantID, &rec.Response, &rec.ExpiresAt)
	if err != nil {
		return IdempotencyRecord{}, mapNoRows(err)
	}
	if !time.Now().Before(rec.ExpiresAt) {
		_, _ = s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND merchant_id = $2`, key, merchantID)
		return IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

// PutIdempotencyRecord stores the response for a key. The composite primary
// key on (key, merchant_id) means concurrent duplicates collapse to a single
// row; the first writer wins.
func (s *Store) PutIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, merchant_id, response, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key, merchant_id) DO NOTHING`, rec.Key, rec.MerchantID, rec.Response, rec.ExpiresAt)
	return err
}
