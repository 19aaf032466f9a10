// Package health exposes liveness and readiness probes for the API process
// and a Redis heartbeat that lets the API observe the worker process.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultHeartbeatKey = "worker:heartbeat"

// Heartbeat periodically refreshes a Redis key with a TTL. Consumers treat a
// missing key as a dead worker.
type Heartbeat struct {
	R        *redis.Client
	Key      string
	Interval time.Duration
	TTL      time.Duration
	Logger   *zerolog.Logger
}

func (h Heartbeat) key() string {
	if h.Key == "" {
		return defaultHeartbeatKey
	}
	return h.Key
}

// Run refreshes the heartbeat until ctx is cancelled. The key is written
// immediately so readiness does not wait a full interval.
func (h Heartbeat) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ttl := h.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	h.beat(ctx, ttl)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx, ttl)
		}
	}
}

func (h Heartbeat) beat(ctx context.Context, ttl time.Duration) {
	if err := h.R.Set(ctx, h.key(), time.Now().Unix(), ttl).Err(); err != nil && h.Logger != nil {
		h.Logger.Warn().Err(err).Msg("heartbeat refresh failed")
	}
}

// Alive reports whether the worker heartbeat key is present.
func (h Heartbeat) Alive(ctx context.Context) (bool, error) {
	n, err := h.R.Exists(ctx, h.key()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
