package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oplogtail/oplogtail/telemetry"
)

// Pinger checks liveness of the underlying MongoDB connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// AdminHandlers serves the operational HTTP API
type AdminHandlers struct {
	stats  *telemetry.StatsCollector
	pinger Pinger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(stats *telemetry.StatsCollector, pinger Pinger) *AdminHandlers {
	return &AdminHandlers{
		stats:  stats,
		pinger: pinger,
	}
}

// handleHealth reports liveness of the tailer and its database connection
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.pinger.Ping(ctx); err != nil {
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSONStatus(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// handleStats reports per-namespace operation counters
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, h.stats.Snapshot())
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
