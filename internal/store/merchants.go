package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const merchantColumns = `id, name, email, api_key, api_secret_hash, COALESCE(webhook_url, ''), webhook_secret, created_at, updated_at`

func scanMerchant(row interface{ Scan(dest ...any) error }) (Merchant, error) {
	var m Merchant
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.APIKey, &m.APISecretHash, &m.WebhookURL, &m.WebhookSecret, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Merchant{}, mapNoRows(err)
	}
	return m, nil
}

// GetMerchantByAPIKey looks up a merchant by its public API key.
func (s *Store) GetMerchantByAPIKey(ctx context.Context, apiKey string) (Merchant, error) {
	if s == nil || s.pool == nil {
		return Merchant{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE api_key = $1`, apiKey)
	return scanMerchant(row)
}

// GetMerchant fetches a merchant by ID.
func (s *Store) GetMerchant(ctx context.Context, id uuid.UUID) (Merchant, error) {
	if s == nil || s.pool == nil {
		return Merchant{}, ErrUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
	return scanMerchant(row)
}

// GetMerchantWebhook returns the webhook destination for a merchant. URL is
// empty when the merchant has not configured one.
func (s *Store) GetMerchantWebhook(ctx context.Context, id uuid.UUID) (url, secret string, err error) {
	if s == nil || s.pool == nil {
		return "", "", ErrUnavailable
	}
	var nullURL sql.NullString
	err = s.pool.QueryRow(ctx, `SELECT webhook_url, webhook_secret FROM merchants WHERE id = $1`, id).Scan(&nullURL, &secret)
	if err != nil {
		return "", "", mapNoRows(err)
	}
	if nullURL.Valid {
		url = nullURL.String
	}
	return url, secret, nil
}

// UpsertMerchant inserts or refreshes a merchant row keyed by email. Used by
// the seeder.
func (s *Store) UpsertMerchant(ctx context.Context, m Merchant) (uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, ErrUnavailable
	}
	var webhookURL any
	if m.WebhookURL != "" {
		webhookURL = m.WebhookURL
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `INSERT INTO merchants (id, name, email, api_key, api_secret_hash, webhook_secret, webhook_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (email) DO UPDATE SET
    webhook_secret = EXCLUDED.webhook_secret,
    webhook_url = EXCLUDED.webhook_url,
    updated_at = NOW()
RETURNING id`, m.ID, m.Name, m.Email, m.APIKey, m.APISecretHash, m.WebhookSecret, webhookURL).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
