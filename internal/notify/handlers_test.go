package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-gateway/internal/auth"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/store"
)

type logStore struct {
	dispatchStore

	entries map[uuid.UUID]store.WebhookLog
	reset   []uuid.UUID
}

func (f *logStore) GetWebhookLog(_ context.Context, id uuid.UUID, merchantID uuid.UUID) (store.WebhookLog, error) {
	l, ok := f.entries[id]
	if !ok || l.MerchantID != merchantID {
		return store.WebhookLog{}, store.ErrNotFound
	}
	return l, nil
}

func (f *logStore) ListWebhookLogs(_ context.Context, merchantID uuid.UUID, _, _ int) ([]store.WebhookLog, int64, error) {
	var out []store.WebhookLog
	for _, l := range f.entries {
		if l.MerchantID == merchantID {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

func (f *logStore) ResetWebhookLog(_ context.Context, id uuid.UUID) error {
	f.reset = append(f.reset, id)
	return nil
}

func newLogRouter(t *testing.T, st *logStore, merchant store.Merchant) (*chi.Mux, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := Handlers{
		Store:   st,
		Emitter: Emitter{Q: queue.Enqueuer{R: client, Prefix: "gw"}, MaxAttempts: 5},
		Logger:  zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithMerchant(req.Context(), merchant)))
		})
	})
	r.Get("/webhooks", h.List)
	r.Post("/webhooks/{id}/retry", h.Retry)
	return r, client
}

func TestListWebhookLogs(t *testing.T) {
	merchant := store.Merchant{ID: uuid.New()}
	logID := uuid.New()
	st := &logStore{entries: map[uuid.UUID]store.WebhookLog{
		logID: {
			ID:         logID,
			MerchantID: merchant.ID,
			Event:      EventPaymentSuccess,
			Payload:    json.RawMessage(`{"payment":{"id":"pay_1"}}`),
			Status:     store.WebhookStatusSuccess,
			Attempts:   1,
		},
	}}
	r, _ := newLogRouter(t, st, merchant)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []store.WebhookLog `json:"data"`
		Total int64              `json:"total"`
		Limit int                `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, 5, resp.Limit)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, logID, resp.Data[0].ID)
	// payload must come back as the original JSON document
	assert.JSONEq(t, `{"payment":{"id":"pay_1"}}`, string(resp.Data[0].Payload))
}

func TestRetryResetsLogAndEnqueuesDelivery(t *testing.T) {
	merchant := store.Merchant{ID: uuid.New()}
	logID := uuid.New()
	st := &logStore{entries: map[uuid.UUID]store.WebhookLog{
		logID: {
			ID:         logID,
			MerchantID: merchant.ID,
			Event:      EventPaymentSuccess,
			Payload:    json.RawMessage(`{"payment":{"id":"pay_1"}}`),
			Status:     store.WebhookStatusFailed,
			Attempts:   5,
		},
	}}
	r, client := newLogRouter(t, st, merchant)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/"+logID.String()+"/retry", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, logID.String(), resp.ID)
	assert.Equal(t, store.WebhookStatusPending, resp.Status)

	require.Equal(t, []uuid.UUID{logID}, st.reset)

	members, err := client.ZRange(context.Background(), "gw:queue:deliver-webhook", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var task struct {
		Kind        string          `json:"kind"`
		Payload     json.RawMessage `json:"payload"`
		Attempt     int             `json:"attempt"`
		MaxAttempts int             `json:"max_attempts"`
	}
	require.NoError(t, json.Unmarshal([]byte(members[0]), &task))
	assert.Equal(t, queue.KindDeliverWebhook, task.Kind)
	// a manual retry starts over with the full attempt budget
	assert.Equal(t, 0, task.Attempt)
	assert.Equal(t, 5, task.MaxAttempts)

	var msg Message
	require.NoError(t, json.Unmarshal(task.Payload, &msg))
	assert.Equal(t, merchant.ID, msg.MerchantID)
	assert.Equal(t, EventPaymentSuccess, msg.Event)
	assert.JSONEq(t, `{"payment":{"id":"pay_1"}}`, string(msg.Payload))
}

func TestRetryUnknownLogReturnsNotFound(t *testing.T) {
	merchant := store.Merchant{ID: uuid.New()}
	st := &logStore{entries: map[uuid.UUID]store.WebhookLog{}}
	r, _ := newLogRouter(t, st, merchant)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/"+uuid.NewString()+"/retry", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, st.reset)
}

func TestRetryScopedToMerchant(t *testing.T) {
	owner := uuid.New()
	logID := uuid.New()
	st := &logStore{entries: map[uuid.UUID]store.WebhookLog{
		logID: {ID: logID, MerchantID: owner, Event: EventPaymentSuccess, Payload: json.RawMessage(`{}`)},
	}}
	r, _ := newLogRouter(t, st, store.Merchant{ID: uuid.New()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/"+logID.String()+"/retry", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, st.reset)
}
