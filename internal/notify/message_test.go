package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-gateway/internal/queue"
)

func TestEmitterSnapshotsPayloadBytes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	emitter := Emitter{Q: queue.Enqueuer{R: client, Prefix: "gw"}, MaxAttempts: 5}
	merchantID := uuid.New()

	type snapshot struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}
	payload := map[string]snapshot{"payment": {ID: "pay_0123456789abcdef", Amount: 2500}}
	require.NoError(t, emitter.Emit(context.Background(), merchantID, EventPaymentCreated, payload))

	members, err := client.ZRange(context.Background(), "gw:queue:deliver-webhook", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var task struct {
		Kind        string          `json:"kind"`
		Key         string          `json:"key"`
		Payload     json.RawMessage `json:"payload"`
		MaxAttempts int             `json:"max_attempts"`
	}
	require.NoError(t, json.Unmarshal([]byte(members[0]), &task))
	assert.Equal(t, queue.KindDeliverWebhook, task.Kind)
	assert.NotEmpty(t, task.Key, "each delivery needs its own task key for locking")
	assert.Equal(t, 5, task.MaxAttempts)

	var msg Message
	require.NoError(t, json.Unmarshal(task.Payload, &msg))
	assert.Equal(t, merchantID, msg.MerchantID)
	assert.Equal(t, EventPaymentCreated, msg.Event)
	assert.JSONEq(t, `{"payment":{"id":"pay_0123456789abcdef","amount":2500}}`, string(msg.Payload))
}
