package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/auth"
	"github.com/noah-isme/backend-gateway/internal/common"
	"github.com/noah-isme/backend-gateway/internal/store"
)

// HeaderIdempotencyKey makes payment creation safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler serves the payment endpoints.
type Handler struct {
	Service *Service
	Logger  zerolog.Logger
}

func (h Handler) renderServiceError(w http.ResponseWriter, err error, fallback string) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.RenderError(w, appErr)
		return
	}
	h.Logger.Error().Err(err).Msg(fallback)
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, fallback, nil)
}

// Create handles POST /payments.
func (h Handler) Create(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "Invalid request body", nil)
		return
	}

	result, err := h.Service.CreatePayment(r.Context(), merchant.ID, r.Header.Get(HeaderIdempotencyKey), in)
	if err != nil {
		h.renderServiceError(w, err, "Processing failed")
		return
	}
	if result.Replayed {
		// result.Raw holds the marshaled first response; writing it through
		// the same encoder keeps the replay byte identical to the original.
		common.JSON(w, http.StatusCreated, result.Raw)
		return
	}
	common.JSON(w, http.StatusCreated, result.Payment)
}

// Get handles GET /payments/{id}.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	id := chi.URLParam(r, "id")
	p, err := h.Service.Store.GetPaymentForMerchant(r.Context(), id, merchant.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Payment not found", nil)
			return
		}
		h.renderServiceError(w, err, "Internal error")
		return
	}
	common.JSON(w, http.StatusOK, p)
}

// List handles GET /payments.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	payments, err := h.Service.Store.ListPaymentsByMerchant(r.Context(), merchant.ID)
	if err != nil {
		h.renderServiceError(w, err, "Internal error")
		return
	}
	common.JSON(w, http.StatusOK, payments)
}

// Stats handles GET /payments/stats.
func (h Handler) Stats(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	stats, err := h.Service.Store.GetMerchantStats(r.Context(), merchant.ID)
	if err != nil {
		h.renderServiceError(w, err, "Internal error")
		return
	}
	common.JSON(w, http.StatusOK, stats)
}

// Capture handles POST /payments/{id}/capture.
func (h Handler) Capture(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	paymentID := chi.URLParam(r, "id")
	p, err := h.Service.Capture(r.Context(), merchant.ID, paymentID)
	if err != nil {
		h.renderServiceError(w, err, "Capture failed")
		return
	}
	common.JSON(w, http.StatusOK, p)
}

// CreateRefund handles POST /payments/{id}/refunds.
func (h Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	paymentID := chi.URLParam(r, "id")
	var in RefundInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "Invalid request body", nil)
		return
	}
	refund, err := h.Service.CreateRefund(r.Context(), merchant.ID, paymentID, in)
	if err != nil {
		h.renderServiceError(w, err, "Refund failed")
		return
	}
	common.JSON(w, http.StatusCreated, refund)
}

// GetRefund handles GET /refunds/{id}.
func (h Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.MerchantFromContext(r.Context()); !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	id := chi.URLParam(r, "id")
	refund, err := h.Service.Store.GetRefund(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Refund not found", nil)
			return
		}
		h.renderServiceError(w, err, "Internal error")
		return
	}
	common.JSON(w, http.StatusOK, refund)
}

type publicStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	CreatedAt string `json:"created_at"`
}

// PublicStatus handles the unauthenticated GET /payments/{id}/status used by
// hosted checkout pages to poll for the result.
func (h Handler) PublicStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.Service.Store.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Payment not found", nil)
			return
		}
		h.renderServiceError(w, err, "Internal error")
		return
	}
	common.JSON(w, http.StatusOK, publicStatus{
		ID:        p.ID,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		CreatedAt: p.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}
