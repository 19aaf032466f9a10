package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Merchant is a tenant account configured with a webhook destination and
// signing secret. Mutated only by seeding/config tooling; read-only to the
// pipeline.
type Merchant struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	APIKey        string    `json:"api_key"`
	APISecretHash string    `json:"-"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Order statuses.
const OrderStatusCreated = "created"

// Order is created once and immutable thereafter.
type Order struct {
	ID         string    `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Receipt    string    `json:"receipt,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Payment statuses and methods.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSuccess    = "success"
	PaymentStatusFailed     = "failed"

	MethodCard = "card"
	MethodUPI  = "upi"
)

// Payment tracks a single payment attempt against an order. Status is
// exclusively advanced by the settlement worker once the row exists.
type Payment struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	MerchantID       uuid.UUID `json:"merchant_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Method           string    `json:"method"`
	Status           string    `json:"status"`
	VPA              string    `json:"vpa,omitempty"`
	CardNetwork      string    `json:"card_network,omitempty"`
	CardLast4        string    `json:"card_last4,omitempty"`
	Captured         bool      `json:"captured"`
	ErrorCode        *string   `json:"error_code"`
	ErrorDescription *string   `json:"error_description"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Terminal reports whether the settlement worker may still mutate the payment.
func (p Payment) Terminal() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusFailed
}

// Refund statuses.
const (
	RefundStatusPending   = "pending"
	RefundStatusProcessed = "processed"
)

// Refund is created against a successful payment.
type Refund struct {
	ID          string     `json:"id"`
	PaymentID   string     `json:"payment_id"`
	MerchantID  uuid.UUID  `json:"merchant_id"`
	Amount      int64      `json:"amount"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Webhook log statuses.
const (
	WebhookStatusPending = "pending"
	WebhookStatusSuccess = "success"
	WebhookStatusFailed  = "failed"
)

// WebhookLog records a single delivery attempt.
type WebhookLog struct {
	ID            uuid.UUID       `json:"id"`
	MerchantID    uuid.UUID       `json:"merchant_id"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at"`
	NextRetryAt   *time.Time      `json:"next_retry_at"`
	ResponseCode  int             `json:"response_code"`
	ResponseBody  string          `json:"response_body,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IdempotencyRecord caches the response of a successful payment creation.
type IdempotencyRecord struct {
	Key        string
	MerchantID uuid.UUID
	Response   []byte
	ExpiresAt  time.Time
}
