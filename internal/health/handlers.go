package health

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/common"
)

// Pinger is satisfied by the Postgres store.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

// Handlers serves the health probe endpoints.
type Handlers struct {
	DB        Pinger
	Redis     *redis.Client
	Heartbeat Heartbeat
	Timeout   time.Duration
	Logger    zerolog.Logger
}

type readiness struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Redis     string `json:"redis"`
	Worker    string `json:"worker"`
	Timestamp string `json:"timestamp"`
}

// Live reports process liveness.
func (h Handlers) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports dependency health. Degraded dependencies yield 503 with the
// per dependency breakdown so operators can see what is down.
func (h Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := readiness{
		Status:    "healthy",
		Database:  "connected",
		Redis:     "connected",
		Worker:    "running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	healthy := true

	if h.DB == nil {
		resp.Database = "disconnected"
		healthy = false
	} else if err := h.DB.Ping(ctx, timeout); err != nil {
		h.Logger.Warn().Err(err).Msg("readiness database check failed")
		resp.Database = "disconnected"
		healthy = false
	}

	if h.Redis == nil {
		resp.Redis = "disconnected"
		healthy = false
	} else if err := h.Redis.Ping(ctx).Err(); err != nil {
		h.Logger.Warn().Err(err).Msg("readiness redis check failed")
		resp.Redis = "disconnected"
		healthy = false
	}

	if resp.Redis == "connected" {
		alive, err := h.Heartbeat.Alive(ctx)
		if err != nil || !alive {
			resp.Worker = "stopped"
		}
	} else {
		resp.Worker = "unknown"
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, resp)
}
