package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/anima-systems/anima-memory/internal/engine"
)

// NewRouter builds the chi router for e: CORS, security headers, request
// ID, panic recovery, request logging, body-size limit, and response-time
// stamping, in that order, followed by every route in the engine's
// external interface.
func NewRouter(e *engine.Engine, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(maxBodyMiddleware)
	r.Use(responseTimeMiddleware)

	h := newHandlers(e)

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/memories", func(r chi.Router) {
			r.Post("/add", h.addMemory)
			r.Post("/query", h.queryMemories)
			r.Get("/bootstrap", h.bootstrapMemories)
			r.Post("/update-tier", h.updateTier)
		})

		r.Route("/associations", func(r chi.Router) {
			r.Get("/discover", h.discoverAssociations)
			r.Get("/hubs", h.associationHubs)
			r.Get("/network-stats", h.networkStats)
		})

		r.Route("/meta", func(r chi.Router) {
			r.Post("/conversation-end", h.conversationEnd)
			r.Get("/reflection", h.listReflections)
			r.Post("/handshake/generate", h.generateHandshake)
			r.Get("/handshake", h.getHandshake)
			r.Get("/metrics", h.metrics)
			r.Get("/cache-stats", h.cacheStats)
		})
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
