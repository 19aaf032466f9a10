package settle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/notify"
	"github.com/noah-isme/backend-gateway/internal/obs"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/store"
)

// RefundProcessor marks pending refunds processed after a simulated delay.
type RefundProcessor struct {
	Store  Store
	Notify Notifier
	Delay  DelayPolicy
	Logger *zerolog.Logger
}

type refundSnapshot struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Handle processes a settle-refund task.
func (p RefundProcessor) Handle(ctx context.Context, t queue.Task) error {
	var task RefundTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("decode settle-refund payload: %w", err)
	}

	refund, err := p.Store.GetRefund(ctx, task.RefundID)
	if err != nil {
		return fmt.Errorf("load refund %s: %w", task.RefundID, err)
	}
	if refund.Status == store.RefundStatusProcessed {
		return nil
	}

	if err := p.Delay.Wait(ctx); err != nil {
		return err
	}

	if err := p.Store.MarkRefundProcessed(ctx, refund.ID); err != nil {
		return fmt.Errorf("mark refund %s processed: %w", refund.ID, err)
	}
	obs.RefundsProcessedTotal.Inc()
	if p.Logger != nil {
		p.Logger.Info().Str("refund_id", refund.ID).Str("payment_id", refund.PaymentID).Msg("refund processed")
	}

	snapshot := map[string]refundSnapshot{"refund": {
		ID:        refund.ID,
		PaymentID: refund.PaymentID,
		Amount:    refund.Amount,
		Status:    store.RefundStatusProcessed,
		CreatedAt: refund.CreatedAt,
	}}
	if err := p.Notify.Emit(ctx, refund.MerchantID, notify.EventRefundProcessed, snapshot); err != nil {
		return fmt.Errorf("enqueue refund.processed webhook: %w", err)
	}
	return nil
}
