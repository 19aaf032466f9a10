package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/auth"
	"github.com/noah-isme/backend-gateway/internal/common"
	"github.com/noah-isme/backend-gateway/internal/store"
)

// Handlers exposes the merchant facing webhook log API.
type Handlers struct {
	Store   Store
	Emitter Emitter
	Logger  zerolog.Logger
}

type listResponse struct {
	Data   []store.WebhookLog `json:"data"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// List returns the merchant's delivery log newest first.
func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)

	logs, total, err := h.Store.ListWebhookLogs(r.Context(), merchant.ID, limit, offset)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list webhook logs")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Internal error", nil)
		return
	}
	common.JSON(w, http.StatusOK, listResponse{Data: logs, Total: total, Limit: limit, Offset: offset})
}

type retryResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Retry resets a log's attempt counter and schedules a fresh delivery of the
// original payload.
func (h Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Authentication required", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Webhook log not found", nil)
		return
	}

	logEntry, err := h.Store.GetWebhookLog(r.Context(), id, merchant.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Webhook log not found", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("load webhook log")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Internal error", nil)
		return
	}

	if err := h.Store.ResetWebhookLog(r.Context(), id); err != nil {
		h.Logger.Error().Err(err).Msg("reset webhook log")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Internal error", nil)
		return
	}

	if err := h.Emitter.Emit(r.Context(), merchant.ID, logEntry.Event, logEntry.Payload); err != nil {
		h.Logger.Error().Err(err).Msg("enqueue webhook retry")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "Internal error", nil)
		return
	}

	common.JSON(w, http.StatusOK, retryResponse{
		ID:      id.String(),
		Status:  store.WebhookStatusPending,
		Message: "Webhook retry scheduled",
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
