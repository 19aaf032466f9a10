package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-gateway/internal/common"
	"github.com/noah-isme/backend-gateway/internal/lock"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/store"
)

type fakeStore struct {
	orders      map[string]store.Order
	payments    map[string]store.Payment
	refunds     map[string]store.Refund
	idempotency map[string]store.IdempotencyRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:      map[string]store.Order{},
		payments:    map[string]store.Payment{},
		refunds:     map[string]store.Refund{},
		idempotency: map[string]store.IdempotencyRecord{},
	}
}

func (f *fakeStore) GetOrder(_ context.Context, id string, merchantID uuid.UUID) (store.Order, error) {
	o, ok := f.orders[id]
	if !ok || o.MerchantID != merchantID {
		return store.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) InsertPayment(_ context.Context, p store.Payment) (store.Payment, error) {
	p.CreatedAt = time.Now()
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetPayment(_ context.Context, id string) (store.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return store.Payment{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPaymentForMerchant(_ context.Context, id string, merchantID uuid.UUID) (store.Payment, error) {
	p, ok := f.payments[id]
	if !ok || p.MerchantID != merchantID {
		return store.Payment{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPaymentsByMerchant(_ context.Context, merchantID uuid.UUID) ([]store.Payment, error) {
	var out []store.Payment
	for _, p := range f.payments {
		if p.MerchantID == merchantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) MarkCaptured(_ context.Context, id string) error {
	p, ok := f.payments[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Captured = true
	f.payments[id] = p
	return nil
}

func (f *fakeStore) GetMerchantStats(_ context.Context, _ uuid.UUID) (store.MerchantStats, error) {
	return store.MerchantStats{}, nil
}

func (f *fakeStore) InsertRefund(_ context.Context, r store.Refund) (store.Refund, error) {
	r.CreatedAt = time.Now()
	f.refunds[r.ID] = r
	return r, nil
}

func (f *fakeStore) GetRefund(_ context.Context, id string) (store.Refund, error) {
	r, ok := f.refunds[id]
	if !ok {
		return store.Refund{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) SumRefundedAmount(_ context.Context, paymentID string) (int64, error) {
	var total int64
	for _, r := range f.refunds {
		if r.PaymentID == paymentID {
			total += r.Amount
		}
	}
	return total, nil
}

func (f *fakeStore) GetIdempotencyRecord(_ context.Context, key string, merchantID uuid.UUID) (store.IdempotencyRecord, error) {
	rec, ok := f.idempotency[key+":"+merchantID.String()]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return store.IdempotencyRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) PutIdempotencyRecord(_ context.Context, rec store.IdempotencyRecord) error {
	f.idempotency[rec.Key+":"+rec.MerchantID.String()] = rec
	return nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Emit(_ context.Context, _ uuid.UUID, event string, _ any) error {
	f.events = append(f.events, event)
	return nil
}

type fakeQueue struct {
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, t queue.Task) error {
	f.tasks = append(f.tasks, t)
	return nil
}

type fixture struct {
	svc        *Service
	store      *fakeStore
	notifier   *fakeNotifier
	queue      *fakeQueue
	merchantID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := newFakeStore()
	notifier := &fakeNotifier{}
	q := &fakeQueue{}
	merchantID := uuid.New()
	st.orders["order_11aa22bb33cc44dd"] = store.Order{
		ID:         "order_11aa22bb33cc44dd",
		MerchantID: merchantID,
		Amount:     5000,
		Currency:   "INR",
		Status:     store.OrderStatusCreated,
	}
	return &fixture{
		svc: &Service{
			Store:          st,
			Notify:         notifier,
			Queue:          q,
			Locker:         lock.Locker{R: client},
			IdempotencyTTL: 24 * time.Hour,
		},
		store:      st,
		notifier:   notifier,
		queue:      q,
		merchantID: merchantID,
	}
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func TestCreatePaymentUPI(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), f.merchantID, "", CreateInput{
		OrderID: "order_11aa22bb33cc44dd",
		Method:  "upi",
		VPA:     "alice@upi",
	})
	require.NoError(t, err)
	p := res.Payment
	assert.False(t, res.Replayed)
	assert.Regexp(t, `^pay_[0-9a-f]{16}$`, p.ID)
	assert.Equal(t, int64(5000), p.Amount)
	assert.Equal(t, "INR", p.Currency)
	assert.Equal(t, store.PaymentStatusPending, p.Status)
	assert.Equal(t, "alice@upi", p.VPA)

	assert.Equal(t, []string{"payment.created", "payment.pending"}, f.notifier.events)
	require.Len(t, f.queue.tasks, 1)
	task := f.queue.tasks[0]
	assert.Equal(t, queue.KindSettlePayment, task.Kind)
	assert.Equal(t, p.ID, task.IdempotencyKey)
	assert.JSONEq(t, fmt.Sprintf(`{"paymentId":%q}`, p.ID), string(task.Payload))
}

func TestCreatePaymentCard(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), f.merchantID, "", CreateInput{
		OrderID: "order_11aa22bb33cc44dd",
		Method:  "card",
		Card: &CardInput{
			Number:      "4111 1111 1111 1111",
			CVV:         "123",
			ExpiryMonth: "12",
			ExpiryYear:  "99",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "visa", res.Payment.CardNetwork)
	assert.Equal(t, "1111", res.Payment.CardLast4)
	assert.Empty(t, res.Payment.VPA)
}

func TestCreatePaymentValidation(t *testing.T) {
	cases := []struct {
		name string
		in   CreateInput
		code string
	}{
		{"invalid vpa", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "upi", VPA: "not a vpa"}, "INVALID_VPA"},
		{"missing vpa", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "upi"}, "INVALID_VPA"},
		{"missing card", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "card"}, "BAD_REQUEST_ERROR"},
		{"bad cvv", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "card", Card: &CardInput{Number: "4111111111111111", CVV: "12"}}, "INVALID_CARD"},
		{"bad luhn", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "card", Card: &CardInput{Number: "4111111111111112", CVV: "123"}}, "INVALID_CARD"},
		{"expired card", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "card", Card: &CardInput{Number: "4111111111111111", CVV: "123", ExpiryMonth: "01", ExpiryYear: "20"}}, "EXPIRED_CARD"},
		{"bad method", CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "cash"}, "BAD_REQUEST_ERROR"},
		{"unknown order", CreateInput{OrderID: "order_ffffffffffffffff", Method: "upi", VPA: "a@upi"}, "NOT_FOUND_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreatePayment(context.Background(), f.merchantID, "", tc.in)
			assertAppError(t, err, tc.code)
			assert.Empty(t, f.queue.tasks)
		})
	}
}

func TestCreatePaymentIdempotencyReplay(t *testing.T) {
	f := newFixture(t)
	in := CreateInput{OrderID: "order_11aa22bb33cc44dd", Method: "upi", VPA: "alice@upi"}

	first, err := f.svc.CreatePayment(context.Background(), f.merchantID, "idem-key-1", in)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := f.svc.CreatePayment(context.Background(), f.merchantID, "idem-key-1", in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)

	var replayed store.Payment
	require.NoError(t, json.Unmarshal(second.Raw, &replayed))
	assert.Equal(t, first.Payment.ID, replayed.ID)

	// the cached response is the exact document produced by the first call
	wantRaw, err := json.Marshal(first.Payment)
	require.NoError(t, err)
	assert.Equal(t, string(wantRaw), string(second.Raw))

	// the replay must not create another payment or settlement job
	assert.Len(t, f.store.payments, 1)
	assert.Len(t, f.queue.tasks, 1)
	assert.Equal(t, []string{"payment.created", "payment.pending"}, f.notifier.events)
}

func TestCreatePaymentIdempotencyScopedPerMerchant(t *testing.T) {
	f := newFixture(t)
	otherMerchant := uuid.New()
	f.store.orders["order_aaaa0000bbbb1111"] = store.Order{
		ID:         "order_aaaa0000bbbb1111",
		MerchantID: otherMerchant,
		Amount:     900,
		Currency:   "INR",
	}

	_, err := f.svc.CreatePayment(context.Background(), f.merchantID, "shared-key", CreateInput{
		OrderID: "order_11aa22bb33cc44dd", Method: "upi", VPA: "a@upi",
	})
	require.NoError(t, err)

	res, err := f.svc.CreatePayment(context.Background(), otherMerchant, "shared-key", CreateInput{
		OrderID: "order_aaaa0000bbbb1111", Method: "upi", VPA: "b@upi",
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed, "same key under another merchant is a distinct request")
	assert.Len(t, f.store.payments, 2)
}

func seedSuccessfulPayment(f *fixture, id string, amount int64) {
	f.store.payments[id] = store.Payment{
		ID:         id,
		OrderID:    "order_11aa22bb33cc44dd",
		MerchantID: f.merchantID,
		Amount:     amount,
		Currency:   "INR",
		Method:     store.MethodUPI,
		Status:     store.PaymentStatusSuccess,
	}
}

func TestCreateRefund(t *testing.T) {
	f := newFixture(t)
	seedSuccessfulPayment(f, "pay_abc", 5000)

	refund, err := f.svc.CreateRefund(context.Background(), f.merchantID, "pay_abc", RefundInput{Amount: 2000, Reason: "requested"})
	require.NoError(t, err)
	assert.Regexp(t, `^rfnd_[0-9a-f]{16}$`, refund.ID)
	assert.Equal(t, store.RefundStatusPending, refund.Status)
	assert.Equal(t, []string{"refund.created"}, f.notifier.events)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, queue.KindSettleRefund, f.queue.tasks[0].Kind)
}

func TestCreateRefundCapsAtPaymentAmount(t *testing.T) {
	f := newFixture(t)
	seedSuccessfulPayment(f, "pay_abc", 5000)

	_, err := f.svc.CreateRefund(context.Background(), f.merchantID, "pay_abc", RefundInput{Amount: 3000})
	require.NoError(t, err)

	// only 2000 remains refundable
	_, err = f.svc.CreateRefund(context.Background(), f.merchantID, "pay_abc", RefundInput{Amount: 2001})
	assertAppError(t, err, "BAD_REQUEST_ERROR")

	refund, err := f.svc.CreateRefund(context.Background(), f.merchantID, "pay_abc", RefundInput{Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), refund.Amount)
}

func TestCreateRefundValidation(t *testing.T) {
	f := newFixture(t)
	seedSuccessfulPayment(f, "pay_abc", 5000)
	f.store.payments["pay_pending"] = store.Payment{
		ID: "pay_pending", MerchantID: f.merchantID, Amount: 5000, Status: store.PaymentStatusPending,
	}

	_, err := f.svc.CreateRefund(context.Background(), f.merchantID, "pay_abc", RefundInput{Amount: 0})
	assertAppError(t, err, "BAD_REQUEST_ERROR")

	_, err = f.svc.CreateRefund(context.Background(), f.merchantID, "pay_missing", RefundInput{Amount: 100})
	assertAppError(t, err, "NOT_FOUND_ERROR")

	_, err = f.svc.CreateRefund(context.Background(), f.merchantID, "pay_pending", RefundInput{Amount: 100})
	assertAppError(t, err, "BAD_REQUEST_ERROR")
}

func TestCapture(t *testing.T) {
	f := newFixture(t)
	seedSuccessfulPayment(f, "pay_abc", 5000)

	p, err := f.svc.Capture(context.Background(), f.merchantID, "pay_abc")
	require.NoError(t, err)
	assert.True(t, p.Captured)

	_, err = f.svc.Capture(context.Background(), f.merchantID, "pay_abc")
	assertAppError(t, err, "BAD_REQUEST_ERROR")

	f.store.payments["pay_pending"] = store.Payment{
		ID: "pay_pending", MerchantID: f.merchantID, Status: store.PaymentStatusPending,
	}
	_, err = f.svc.Capture(context.Background(), f.merchantID, "pay_pending")
	assertAppError(t, err, "BAD_REQUEST_ERROR")

	_, err = f.svc.Capture(context.Background(), f.merchantID, "pay_missing")
	assertAppError(t, err, "NOT_FOUND_ERROR")
}
