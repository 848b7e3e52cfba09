package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/oplogtail/oplogtail/telemetry"
)

// NewRouter builds the admin API router. The Prometheus /metrics endpoint is
// mounted when telemetry is enabled.
func NewRouter(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)
	r.Get("/stats", handlers.handleStats)

	if metricsHandler := telemetry.GetMetricsHandler(); metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}

// Serve starts the admin HTTP server in the background and returns it so the
// caller can shut it down.
func Serve(addr string, handlers *AdminHandlers) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: NewRouter(handlers),
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Admin HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	return server
}
