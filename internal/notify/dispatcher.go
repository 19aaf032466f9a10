package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/obs"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/resilience"
	"github.com/noah-isme/backend-gateway/internal/store"
)

const defaultUserAgent = "gateway-webhooks/1.0"

// Store is the persistence surface the delivery pipeline needs.
type Store interface {
	GetMerchantWebhook(ctx context.Context, id uuid.UUID) (url, secret string, err error)
	InsertWebhookLog(ctx context.Context, l store.WebhookLog) (store.WebhookLog, error)
	GetWebhookLog(ctx context.Context, id uuid.UUID, merchantID uuid.UUID) (store.WebhookLog, error)
	ListWebhookLogs(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]store.WebhookLog, int64, error)
	ResetWebhookLog(ctx context.Context, id uuid.UUID) error
}

// Dispatcher posts signed webhook payloads to merchant endpoints and writes
// one webhook_logs row per attempt.
type Dispatcher struct {
	Store       Store
	HTTP        resilience.HTTPClient
	Schedule    Schedule
	MaxAttempts int
	BodyLimit   int
	UserAgent   string
	Logger      *zerolog.Logger
}

// Handle delivers the task's message. A returned error signals the queue to
// reschedule the task on the retry schedule.
func (d Dispatcher) Handle(ctx context.Context, t queue.Task) error {
	var msg Message
	if err := json.Unmarshal(t.Payload, &msg); err != nil {
		// undecodable message can never succeed
		return nil
	}

	url, secret, err := d.Store.GetMerchantWebhook(ctx, msg.MerchantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if url == "" {
		// merchant has no endpoint configured, nothing to deliver or log
		return nil
	}

	obs.WebhookAttemptsTotal.Inc()
	started := time.Now()
	code, body, sendErr := d.post(ctx, url, secret, msg.Payload)
	elapsed := time.Since(started)

	status := store.WebhookStatusSuccess
	if sendErr != nil {
		status = store.WebhookStatusFailed
	}
	obs.WebhookDeliveriesTotal.WithLabelValues(status).Inc()
	obs.WebhookAttemptLatency.WithLabelValues(status).Observe(obs.DurationMillis(elapsed))

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = t.MaxAttempts
	}
	now := time.Now()
	var nextRetry *time.Time
	if sendErr != nil && t.Attempt < maxAttempts {
		at := now.Add(d.Schedule.Delay(t.Attempt))
		nextRetry = &at
	}

	logEntry := store.WebhookLog{
		MerchantID:    msg.MerchantID,
		Event:         msg.Event,
		Payload:       msg.Payload,
		Status:        status,
		Attempts:      t.Attempt,
		LastAttemptAt: &now,
		NextRetryAt:   nextRetry,
		ResponseCode:  code,
		ResponseBody:  d.truncate(body),
	}
	if _, err := d.Store.InsertWebhookLog(ctx, logEntry); err != nil {
		if d.Logger != nil {
			d.Logger.Error().Err(err).Str("event", msg.Event).Msg("persist webhook log")
		}
	}

	if sendErr != nil {
		if d.Logger != nil {
			d.Logger.Warn().
				Str("event", msg.Event).
				Str("merchant_id", msg.MerchantID.String()).
				Int("attempt", t.Attempt).
				Int("response_code", code).
				Err(sendErr).
				Msg("webhook delivery failed")
		}
		return sendErr
	}
	if d.Logger != nil {
		d.Logger.Info().
			Str("event", msg.Event).
			Str("merchant_id", msg.MerchantID.String()).
			Int("attempt", t.Attempt).
			Int("response_code", code).
			Msg("webhook delivered")
	}
	return nil
}

// post sends the payload and returns the response status, the (possibly
// truncated at read time) body, and an error when delivery must be retried.
// A transport failure reports code 0 with the error text as the body.
func (d Dispatcher) post(ctx context.Context, url, secret string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err.Error(), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(secret, payload))
	ua := d.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		return 0, err.Error(), err
	}
	defer resp.Body.Close()

	limit := int64(d.BodyLimit)
	if limit <= 0 {
		limit = 1000
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, string(raw), fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, string(raw), nil
}

func (d Dispatcher) truncate(s string) string {
	limit := d.BodyLimit
	if limit <= 0 {
		limit = 1000
	}
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
