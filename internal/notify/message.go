// Package notify delivers merchant webhooks with signed payloads, a fixed
// retry schedule and a per attempt delivery log.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-gateway/internal/queue"
)

// Message is the queued delivery envelope. Payload holds the exact JSON
// document sent to the merchant; it is marshaled once at emit time so the
// signature always covers the bytes on the wire.
type Message struct {
	MerchantID uuid.UUID       `json:"merchant_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// Webhook event names.
const (
	EventPaymentCreated  = "payment.created"
	EventPaymentPending  = "payment.pending"
	EventPaymentSuccess  = "payment.success"
	EventPaymentFailed   = "payment.failed"
	EventRefundCreated   = "refund.created"
	EventRefundProcessed = "refund.processed"
)

// Emitter enqueues webhook deliveries.
type Emitter struct {
	Q           queue.Enqueuer
	MaxAttempts int
}

// Emit snapshots payload as JSON and schedules its delivery. Each call is an
// independent delivery with its own task key and retry budget; the key lets
// the worker hold a per delivery lock across redeliveries.
func (e Emitter) Emit(ctx context.Context, merchantID uuid.UUID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{MerchantID: merchantID, Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return e.Q.Enqueue(ctx, queue.Task{
		Kind:           queue.KindDeliverWebhook,
		Payload:        msg,
		IdempotencyKey: uuid.NewString(),
		MaxAttempts:    e.MaxAttempts,
	})
}
