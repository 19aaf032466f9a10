// Package order implements merchant order creation and retrieval.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/auth"
	"github.com/noah-isme/backend-gateway/internal/common"
	"github.com/noah-isme/backend-gateway/internal/store"
)

// Store is the persistence surface order handlers need.
type Store interface {
	InsertOrder(ctx context.Context, o store.Order) (store.Order, error)
	GetOrder(ctx context.Context, id string, merchantID uuid.UUID) (store.Order, error)
	OrderIDExists(ctx context.Context, id string) (bool, error)
}

// Handler serves the order endpoints.
type Handler struct {
	Store    Store
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type createRequest struct {
	Amount   int64  `json:"amount" validate:"required,gte=100"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
	Receipt  string `json:"receipt" validate:"omitempty,max=255"`
	Notes    string `json:"notes"`
}

// Create inserts a new order for the authenticated merchant.
func (h Handler) Create(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "Invalid request body", nil)
		return
	}
	if req.Amount < 100 {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "amount must be at least 100", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "Invalid order request", nil)
			return
		}
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	id, err := h.uniqueOrderID(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("generate order id")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Could not create order", nil)
		return
	}

	created, err := h.Store.InsertOrder(r.Context(), store.Order{
		ID:         id,
		MerchantID: merchant.ID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Receipt:    req.Receipt,
		Notes:      req.Notes,
		Status:     store.OrderStatusCreated,
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("insert order")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Could not create order", nil)
		return
	}
	common.JSON(w, http.StatusCreated, created)
}

// Get returns a single order scoped to the authenticated merchant.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	id := chi.URLParam(r, "id")

	ord, err := h.Store.GetOrder(r.Context(), id, merchant.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Order not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("order_id", id).Msg("load order")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Could not fetch order", nil)
		return
	}
	common.JSON(w, http.StatusOK, ord)
}

// uniqueOrderID draws random ids until one is free. The id space is large
// enough that the loop effectively runs once.
func (h Handler) uniqueOrderID(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		id := common.NewID("order_")
		exists, err := h.Store.OrderIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("order: could not generate unique id")
}
