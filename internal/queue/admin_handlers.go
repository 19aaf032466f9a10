package queue

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-gateway/internal/common"
)

// Liveness reports whether the worker process heartbeat is fresh.
type Liveness interface {
	Alive(ctx context.Context) (bool, error)
}

// StatusHandler exposes aggregated job counts for status reporting.
type StatusHandler struct {
	Queue    Enqueuer
	Kinds    []string
	Liveness Liveness
	Logger   zerolog.Logger
}

// Status aggregates job counts across the configured kinds and reports worker
// liveness derived from the heartbeat key.
func (h StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "queue unavailable", nil)
		return
	}
	ctx := r.Context()
	var total Counts
	for _, kind := range h.Kinds {
		counts, err := h.Queue.JobCounts(ctx, kind)
		if err != nil {
			h.Logger.Error().Err(err).Str("kind", kind).Msg("read job counts")
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "could not read job counts", nil)
			return
		}
		total.Waiting += counts.Waiting
		total.Delayed += counts.Delayed
		total.Active += counts.Active
		total.Completed += counts.Completed
		total.Failed += counts.Failed
	}

	workerStatus := "stopped"
	if h.Liveness != nil {
		alive, err := h.Liveness.Alive(ctx)
		if err != nil {
			h.Logger.Error().Err(err).Msg("read worker heartbeat")
		} else if alive {
			workerStatus = "running"
		}
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"pending":       total.Waiting + total.Delayed,
		"processing":    total.Active,
		"completed":     total.Completed,
		"failed":        total.Failed,
		"worker_status": workerStatus,
	})
}
