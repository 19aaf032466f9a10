// Package payment implements payment creation, capture, refunds and the
// merchant reporting endpoints.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/common"
	"github.com/noah-isme/backend-gateway/internal/lock"
	"github.com/noah-isme/backend-gateway/internal/notify"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/settle"
	"github.com/noah-isme/backend-gateway/internal/store"
	"github.com/noah-isme/backend-gateway/internal/validate"
)

var cvvPattern = regexp.MustCompile(`^[0-9]{3,4}$`)

// Store is the persistence surface the payment service needs.
type Store interface {
	GetOrder(ctx context.Context, id string, merchantID uuid.UUID) (store.Order, error)
	InsertPayment(ctx context.Context, p store.Payment) (store.Payment, error)
	GetPayment(ctx context.Context, id string) (store.Payment, error)
	GetPaymentForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (store.Payment, error)
	ListPaymentsByMerchant(ctx context.Context, merchantID uuid.UUID) ([]store.Payment, error)
	MarkCaptured(ctx context.Context, id string) error
	GetMerchantStats(ctx context.Context, merchantID uuid.UUID) (store.MerchantStats, error)
	InsertRefund(ctx context.Context, r store.Refund) (store.Refund, error)
	GetRefund(ctx context.Context, id string) (store.Refund, error)
	SumRefundedAmount(ctx context.Context, paymentID string) (int64, error)
	GetIdempotencyRecord(ctx context.Context, key string, merchantID uuid.UUID) (store.IdempotencyRecord, error)
	PutIdempotencyRecord(ctx context.Context, rec store.IdempotencyRecord) error
}

// Notifier schedules webhook deliveries.
type Notifier interface {
	Emit(ctx context.Context, merchantID uuid.UUID, event string, payload any) error
}

// Enqueuer schedules settlement jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Service orchestrates payment and refund creation.
type Service struct {
	Store          Store
	Notify         Notifier
	Queue          Enqueuer
	Locker         lock.Locker
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
	Logger         zerolog.Logger
}

// CardInput carries raw card details. The number and CVV are validated and
// discarded; only the network and last four digits are stored.
type CardInput struct {
	Number      string `json:"number"`
	CVV         string `json:"cvv"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
}

// CreateInput is the payment creation request.
type CreateInput struct {
	OrderID string     `json:"order_id"`
	Method  string     `json:"method"`
	VPA     string     `json:"vpa"`
	Card    *CardInput `json:"card"`
}

// CreateResult is the outcome of CreatePayment. Replayed is true when the
// response was served from the idempotency cache.
type CreateResult struct {
	Payment  store.Payment
	Raw      json.RawMessage
	Replayed bool
}

func badRequest(code, message string) *common.AppError {
	return common.NewAppError(code, message, http.StatusBadRequest, nil)
}

// CreatePayment validates the instrument, records a pending payment and
// schedules its settlement. When idemKey is non-empty the response is cached
// so replays return the original payment.
func (s *Service) CreatePayment(ctx context.Context, merchantID uuid.UUID, idemKey string, in CreateInput) (CreateResult, error) {
	if idemKey != "" {
		rec, err := s.Store.GetIdempotencyRecord(ctx, idemKey, merchantID)
		if err == nil {
			return CreateResult{Raw: rec.Response, Replayed: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, err
		}
	}

	ord, err := s.Store.GetOrder(ctx, in.OrderID, merchantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, common.NewAppError(common.CodeNotFound, "Order not found", http.StatusNotFound, nil)
		}
		return CreateResult{}, err
	}

	p := store.Payment{
		OrderID:    ord.ID,
		MerchantID: ord.MerchantID,
		Amount:     ord.Amount,
		Currency:   ord.Currency,
		Status:     store.PaymentStatusPending,
	}
	switch in.Method {
	case store.MethodUPI:
		if in.VPA == "" || !validate.VPAValid(in.VPA) {
			return CreateResult{}, badRequest(common.CodeInvalidVPA, "Invalid VPA")
		}
		p.Method = store.MethodUPI
		p.VPA = in.VPA
	case store.MethodCard:
		card := in.Card
		if card == nil || card.Number == "" || card.CVV == "" {
			return CreateResult{}, badRequest(common.CodeBadRequest, "Missing card details")
		}
		if !cvvPattern.MatchString(card.CVV) {
			return CreateResult{}, badRequest(common.CodeInvalidCard, "CVV must be 3-4 digits")
		}
		if !validate.Luhn(card.Number) {
			return CreateResult{}, badRequest(common.CodeInvalidCard, "Invalid card number")
		}
		if !validate.ExpiryValid(card.ExpiryMonth, card.ExpiryYear, time.Now()) {
			return CreateResult{}, badRequest(common.CodeExpiredCard, "Card expired")
		}
		digits := strings.NewReplacer(" ", "", "-", "").Replace(card.Number)
		p.Method = store.MethodCard
		p.CardNetwork = validate.CardNetwork(digits)
		p.CardLast4 = digits[len(digits)-4:]
	default:
		return CreateResult{}, badRequest(common.CodeBadRequest, "Invalid method")
	}

	p.ID = common.NewID("pay_")
	created, err := s.Store.InsertPayment(ctx, p)
	if err != nil {
		return CreateResult{}, fmt.Errorf("insert payment: %w", err)
	}

	snapshot := map[string]store.Payment{"payment": created}
	if err := s.Notify.Emit(ctx, merchantID, notify.EventPaymentCreated, snapshot); err != nil {
		s.Logger.Error().Err(err).Str("payment_id", created.ID).Msg("enqueue payment.created webhook")
	}
	if err := s.Notify.Emit(ctx, merchantID, notify.EventPaymentPending, snapshot); err != nil {
		s.Logger.Error().Err(err).Str("payment_id", created.ID).Msg("enqueue payment.pending webhook")
	}

	taskPayload, err := json.Marshal(settle.PaymentTask{PaymentID: created.ID})
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.Queue.Enqueue(ctx, queue.Task{
		Kind:           queue.KindSettlePayment,
		Payload:        taskPayload,
		IdempotencyKey: created.ID,
	}); err != nil {
		return CreateResult{}, fmt.Errorf("enqueue settlement: %w", err)
	}

	if idemKey != "" {
		raw, err := json.Marshal(created)
		if err != nil {
			return CreateResult{}, err
		}
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		if err := s.Store.PutIdempotencyRecord(ctx, store.IdempotencyRecord{
			Key:        idemKey,
			MerchantID: merchantID,
			Response:   raw,
			ExpiresAt:  time.Now().Add(ttl),
		}); err != nil {
			s.Logger.Error().Err(err).Str("payment_id", created.ID).Msg("persist idempotency record")
		}
	}

	return CreateResult{Payment: created}, nil
}

// RefundInput is the refund creation request.
type RefundInput struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// CreateRefund records a refund against a successful payment and schedules
// its processing. Creation runs under a per payment lock so concurrent
// requests cannot refund past the captured amount.
func (s *Service) CreateRefund(ctx context.Context, merchantID uuid.UUID, paymentID string, in RefundInput) (store.Refund, error) {
	if in.Amount <= 0 {
		return store.Refund{}, badRequest(common.CodeBadRequest, "Invalid or missing amount")
	}

	payment, err := s.Store.GetPaymentForMerchant(ctx, paymentID, merchantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Refund{}, common.NewAppError(common.CodeNotFound, "Payment not found", http.StatusNotFound, nil)
		}
		return store.Refund{}, err
	}
	if payment.Status != store.PaymentStatusSuccess {
		return store.Refund{}, badRequest(common.CodeBadRequest, "Payment not in refundable state")
	}

	var created store.Refund
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	err = s.Locker.WithLock(ctx, "gw:lock:refund:"+paymentID, ttl, func(ctx context.Context) error {
		refunded, err := s.Store.SumRefundedAmount(ctx, paymentID)
		if err != nil {
			return err
		}
		if in.Amount > payment.Amount-refunded {
			return badRequest(common.CodeBadRequest, "Refund amount exceeds available amount")
		}

		created, err = s.Store.InsertRefund(ctx, store.Refund{
			ID:         common.NewID("rfnd_"),
			PaymentID:  paymentID,
			MerchantID: merchantID,
			Amount:     in.Amount,
			Reason:     in.Reason,
			Status:     store.RefundStatusPending,
		})
		return err
	})
	if err != nil {
		return store.Refund{}, err
	}

	snapshot := map[string]store.Refund{"refund": created}
	if err := s.Notify.Emit(ctx, merchantID, notify.EventRefundCreated, snapshot); err != nil {
		s.Logger.Error().Err(err).Str("refund_id", created.ID).Msg("enqueue refund.created webhook")
	}

	taskPayload, err := json.Marshal(settle.RefundTask{RefundID: created.ID})
	if err != nil {
		return store.Refund{}, err
	}
	if err := s.Queue.Enqueue(ctx, queue.Task{
		Kind:           queue.KindSettleRefund,
		Payload:        taskPayload,
		IdempotencyKey: created.ID,
	}); err != nil {
		return store.Refund{}, fmt.Errorf("enqueue refund processing: %w", err)
	}
	return created, nil
}

// Capture marks a successful payment as captured.
func (s *Service) Capture(ctx context.Context, merchantID uuid.UUID, paymentID string) (store.Payment, error) {
	payment, err := s.Store.GetPaymentForMerchant(ctx, paymentID, merchantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Payment{}, common.NewAppError(common.CodeNotFound, "Payment not found", http.StatusNotFound, nil)
		}
		return store.Payment{}, err
	}
	if payment.Status != store.PaymentStatusSuccess {
		return store.Payment{}, badRequest(common.CodeBadRequest, "Payment must be successful to capture")
	}
	if payment.Captured {
		return store.Payment{}, badRequest(common.CodeBadRequest, "Payment already captured")
	}
	if err := s.Store.MarkCaptured(ctx, paymentID); err != nil {
		return store.Payment{}, err
	}
	return s.Store.GetPaymentForMerchant(ctx, paymentID, merchantID)
}
