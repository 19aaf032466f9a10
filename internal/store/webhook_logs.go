package store

import (
	"context"

	"github.com/google/uuid"
)

const webhookLogColumns = `id, merchant_id, event, payload, status, attempts, last_attempt_at, next_retry_at,
COALESCE(response_code, 0), COALESCE(response_body, ''), created_at`

func scanWebhookLog(row interface{ Scan(dest ...any) error }) (WebhookLog, error) {
	var l WebhookLog
	err := row.Scan(&l.ID, &l.MerchantID, &l.Event, &l.Payload, &l.Status, &l.Attempts, &l.LastAttemptAt, &l.NextRetryAt,
		&l.ResponseCode, &l.ResponseBody, &l.CreatedAt)
	if err != nil {
		return WebhookLog{}, mapNoRows(err)
	}
	return l, nil
}

// InsertWebhookLog records a single delivery attempt.
func (s *Store) InsertWebhookLog(ctx context.Context, l WebhookLog) (WebhookLog, error) {
	if s == nil || s.pool == nil {
		return WebhookLog{}, ErrUnavailable
	}
	var responseCode any
	if l.ResponseCode != 0 || l.Status == WebhookStatusSuccess {
		responseCode = l.ResponseCode
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_logs (merchant_id, event, payload, status, attempts, last_attempt_at, next_retry_at, response_code, response_body)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
RETURNING `+webhookLogColumns,
		l.MerchantID, l.Event, l.Payload, l.Status, l.Attempts, l.LastAttemptAt, l.NextRetryAt, responseCode, l.ResponseBody)
	return scanWebhookLog(row)
}

// GetWebhookLog fetches a log row scoped to its merchant.
func (s *Store) GetWebhookLog(ctx context.Context, id uuid.UUID, merchantID uuid.UUID) (WebhookLog, error) {
	if s == nil || s.pool == nil {
		return WebhookLog{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+webhookLogColumns+` FROM webhook_logs WHERE id = $1 AND merchant_id = $2`, id, merchantID)
	return scanWebhookLog(row)
}

// ListWebhookLogs returns a merchant's delivery log newest first.
func (s *Store) ListWebhookLogs(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]WebhookLog, int64, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrUnavailable
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+webhookLogColumns+` FROM webhook_logs WHERE merchant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, merchantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]WebhookLog, 0, limit)
	for rows.Next() {
		l, err := scanWebhookLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_logs WHERE merchant_id = $1`, merchantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// ResetWebhookLog clears a log's retry lineage ahead of a manual re-delivery.
func (s *Store) ResetWebhookLog(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_logs SET status = $1, attempts = 0, next_retry_at = NULL WHERE id = $2`, WebhookStatusPending, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
