package settle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/notify"
	"github.com/noah-isme/backend-gateway/internal/obs"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/store"
)

// Failed settlements carry this code pair on the payment row.
const (
	declineCode        = "PAYMENT_FAILED"
	declineDescription = "Bank declined transaction"
)

// PaymentTask is the payload of a settle-payment job.
type PaymentTask struct {
	PaymentID string `json:"paymentId"`
}

// RefundTask is the payload of a settle-refund job.
type RefundTask struct {
	RefundID string `json:"refundId"`
}

// Store is the persistence surface the settlement workers need.
type Store interface {
	GetPayment(ctx context.Context, id string) (store.Payment, error)
	SettlePayment(ctx context.Context, id, status string, errorCode, errorDescription *string) error
	GetRefund(ctx context.Context, id string) (store.Refund, error)
	MarkRefundProcessed(ctx context.Context, id string) error
}

// Notifier schedules webhook deliveries for settlement outcomes.
type Notifier interface {
	Emit(ctx context.Context, merchantID uuid.UUID, event string, payload any) error
}

// PaymentProcessor settles pending payments.
type PaymentProcessor struct {
	Store   Store
	Notify  Notifier
	Outcome OutcomePolicy
	Delay   DelayPolicy
	Logger  *zerolog.Logger
}

type paymentSnapshot struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	VPA       string    `json:"vpa,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Handle processes a settle-payment task. A missing payment is returned as an
// error so the queue retries and eventually parks the task in the DLQ.
func (p PaymentProcessor) Handle(ctx context.Context, t queue.Task) error {
	var task PaymentTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("decode settle-payment payload: %w", err)
	}

	payment, err := p.Store.GetPayment(ctx, task.PaymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", task.PaymentID, err)
	}
	if payment.Terminal() {
		// a previous delivery of this task already settled the payment
		return nil
	}

	if err := p.Delay.Wait(ctx); err != nil {
		return err
	}

	success := p.Outcome.Decide(payment.Method)
	status := store.PaymentStatusSuccess
	var errCode, errDesc *string
	if !success {
		status = store.PaymentStatusFailed
		code, desc := declineCode, declineDescription
		errCode, errDesc = &code, &desc
	}

	if err := p.Store.SettlePayment(ctx, payment.ID, status, errCode, errDesc); err != nil {
		return fmt.Errorf("settle payment %s: %w", payment.ID, err)
	}
	obs.PaymentsSettledTotal.WithLabelValues(payment.Method, status).Inc()
	if p.Logger != nil {
		p.Logger.Info().
			Str("payment_id", payment.ID).
			Str("method", payment.Method).
			Str("status", status).
			Msg("payment settled")
	}

	event := notify.EventPaymentSuccess
	if !success {
		event = notify.EventPaymentFailed
	}
	snapshot := map[string]paymentSnapshot{"payment": {
		ID:        payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Method:    payment.Method,
		Status:    status,
		VPA:       payment.VPA,
		CreatedAt: payment.CreatedAt,
	}}
	if err := p.Notify.Emit(ctx, payment.MerchantID, event, snapshot); err != nil {
		return fmt.Errorf("enqueue %s webhook: %w", event, err)
	}
	return nil
}
