// Package router mounts the scheduler's HTTP entry points behind the
// service's standard middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/olticketwidget/price-ingest/config"
	ourmw "github.com/olticketwidget/price-ingest/middleware"
	"github.com/olticketwidget/price-ingest/scheduler"
)

// New returns a configured chi Router with the middleware chain and
// scheduler routes mounted.
func New(cfg *config.Config, appLogger zerolog.Logger, h *scheduler.Handlers) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(ourmw.SecurityHeaders)
	r.Use(mwRequestLogger(appLogger))
	r.Use(ourmw.NewDeadline(appLogger, cfg.RequestTimeout).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"price-ingest"}`))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/scheduler", func(r chi.Router) {
		r.Use(h.RequireSharedSecret)
		r.Post("/hourly", h.Hourly)
		r.Post("/daily", h.Daily)
		r.Post("/refresh-metadata", h.RefreshMetadata)
	})

	return r
}

// mwRequestLogger logs one structured line per request, the way the rest
// of this service logs — method, path, request id, status, duration.
func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", time.Since(started)).
				Msg("request handled")
		})
	}
}
