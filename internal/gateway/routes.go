package gateway

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRoutes configures the router with every gateway endpoint. The
// WebSocket endpoint sits behind AuthGate.
func SetupRoutes(h *Handlers, auth Authenticator, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins.list(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Emit-Secret"},
		MaxAge:         300,
	}))

	r.Get("/", h.Diagnostics)
	r.Get("/health", HealthHandler)
	r.Get("/test", TestPageHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.With(AuthGate(auth, logger)).Get("/ws", h.WebSocket)
	r.Post("/emit", h.Emit)

	return r
}
