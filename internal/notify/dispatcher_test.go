package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-gateway/internal/obs"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/resilience"
	"github.com/noah-isme/backend-gateway/internal/store"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	m.Run()
}

type dispatchStore struct {
	url    string
	secret string
	err    error

	logs []store.WebhookLog
}

func (f *dispatchStore) GetMerchantWebhook(_ context.Context, _ uuid.UUID) (string, string, error) {
	return f.url, f.secret, f.err
}

func (f *dispatchStore) InsertWebhookLog(_ context.Context, l store.WebhookLog) (store.WebhookLog, error) {
	f.logs = append(f.logs, l)
	return l, nil
}

func (f *dispatchStore) GetWebhookLog(_ context.Context, _ uuid.UUID, _ uuid.UUID) (store.WebhookLog, error) {
	return store.WebhookLog{}, store.ErrNotFound
}

func (f *dispatchStore) ListWebhookLogs(_ context.Context, _ uuid.UUID, _, _ int) ([]store.WebhookLog, int64, error) {
	return nil, 0, nil
}

func (f *dispatchStore) ResetWebhookLog(_ context.Context, _ uuid.UUID) error { return nil }

func deliveryTask(t *testing.T, merchantID uuid.UUID, payload string) queue.Task {
	t.Helper()
	raw, err := json.Marshal(Message{MerchantID: merchantID, Event: "payment.success", Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	return queue.Task{Kind: queue.KindDeliverWebhook, Payload: raw, Attempt: 1, MaxAttempts: 5}
}

func newDispatcher(st Store) Dispatcher {
	return Dispatcher{
		Store:       st,
		HTTP:        resilience.HTTPClient{Client: &http.Client{}, Timeout: 5 * time.Second},
		Schedule:    Schedule{Test: true},
		MaxAttempts: 5,
		BodyLimit:   1000,
	}
}

func TestDispatcherDeliversSignedPayload(t *testing.T) {
	payload := `{"payment":{"id":"pay_0011223344556677","status":"success"}}`

	var gotBody []byte
	var gotSig, gotUA, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	st := &dispatchStore{url: srv.URL, secret: "whsec_test"}
	d := newDispatcher(st)
	merchantID := uuid.New()

	require.NoError(t, d.Handle(context.Background(), deliveryTask(t, merchantID, payload)))

	assert.Equal(t, payload, string(gotBody))
	assert.Equal(t, Sign("whsec_test", []byte(payload)), gotSig)
	assert.Equal(t, "gateway-webhooks/1.0", gotUA)
	assert.Equal(t, "application/json", gotCT)

	require.Len(t, st.logs, 1)
	logEntry := st.logs[0]
	assert.Equal(t, merchantID, logEntry.MerchantID)
	assert.Equal(t, "payment.success", logEntry.Event)
	assert.Equal(t, store.WebhookStatusSuccess, logEntry.Status)
	assert.Equal(t, 1, logEntry.Attempts)
	assert.Equal(t, http.StatusOK, logEntry.ResponseCode)
	assert.Equal(t, `{"received":true}`, logEntry.ResponseBody)
	assert.Nil(t, logEntry.NextRetryAt)
	require.NotNil(t, logEntry.LastAttemptAt)
}

func TestDispatcherFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := &dispatchStore{url: srv.URL, secret: "whsec_test"}
	d := newDispatcher(st)

	before := time.Now()
	err := d.Handle(context.Background(), deliveryTask(t, uuid.New(), `{"payment":{"id":"pay_1"}}`))
	require.Error(t, err)

	require.Len(t, st.logs, 1)
	logEntry := st.logs[0]
	assert.Equal(t, store.WebhookStatusFailed, logEntry.Status)
	assert.Equal(t, http.StatusInternalServerError, logEntry.ResponseCode)
	require.NotNil(t, logEntry.NextRetryAt)
	// first failed attempt in test mode retries after 5 seconds
	assert.WithinDuration(t, before.Add(5*time.Second), *logEntry.NextRetryAt, 2*time.Second)
}

func TestDispatcherFinalAttemptHasNoRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	st := &dispatchStore{url: srv.URL, secret: "whsec_test"}
	d := newDispatcher(st)

	task := deliveryTask(t, uuid.New(), `{"payment":{"id":"pay_1"}}`)
	task.Attempt = 5
	require.Error(t, d.Handle(context.Background(), task))

	require.Len(t, st.logs, 1)
	assert.Nil(t, st.logs[0].NextRetryAt)
}

func TestDispatcherTransportErrorLogsCodeZero(t *testing.T) {
	st := &dispatchStore{url: "http://127.0.0.1:1", secret: "whsec_test"}
	d := newDispatcher(st)

	require.Error(t, d.Handle(context.Background(), deliveryTask(t, uuid.New(), `{"payment":{"id":"pay_1"}}`)))

	require.Len(t, st.logs, 1)
	assert.Equal(t, store.WebhookStatusFailed, st.logs[0].Status)
	assert.Equal(t, 0, st.logs[0].ResponseCode)
	assert.NotEmpty(t, st.logs[0].ResponseBody)
}

func TestDispatcherNoURLAcksWithoutLog(t *testing.T) {
	st := &dispatchStore{url: "", secret: ""}
	d := newDispatcher(st)

	require.NoError(t, d.Handle(context.Background(), deliveryTask(t, uuid.New(), `{"x":1}`)))
	assert.Empty(t, st.logs)
}

func TestDispatcherMissingMerchantAcks(t *testing.T) {
	st := &dispatchStore{err: store.ErrNotFound}
	d := newDispatcher(st)

	require.NoError(t, d.Handle(context.Background(), deliveryTask(t, uuid.New(), `{"x":1}`)))
	assert.Empty(t, st.logs)
}

func TestDispatcherTruncatesResponseBody(t *testing.T) {
	long := strings.Repeat("a", 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	st := &dispatchStore{url: srv.URL, secret: "whsec_test"}
	d := newDispatcher(st)

	require.NoError(t, d.Handle(context.Background(), deliveryTask(t, uuid.New(), `{"x":1}`)))
	require.Len(t, st.logs, 1)
	assert.Len(t, st.logs[0].ResponseBody, 1000)
}
