/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/programs/*     Program and tier configuration
  /api/clients/*      Balance and history reads
  /api/sales          Accrual write path
  /api/redemptions    Redemption write path
  /api/leaderboard    Ranked views
  /api/admin/*        Adjustments and the manual sweep
  /metrics            Prometheus scrape endpoint
  /healthz            Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  front with an authenticating gateway in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Program routes
		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.ListPrograms)
			r.Post("/", h.CreateProgram)
			r.Get("/{id}", h.GetProgram)
			r.Put("/{id}", h.UpdateProgram)
			r.Get("/{id}/stats", h.GetProgramStats)
			r.Get("/{id}/tiers", h.ListTiers)
			r.Post("/{id}/tiers", h.CreateTier)
		})

		// Tier routes
		r.Route("/tiers", func(r chi.Router) {
			r.Put("/{id}", h.UpdateTier)
			r.Delete("/{id}", h.DeleteTier)
		})

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetClientBalance)
			r.Get("/{id}/transactions", h.GetClientTransactions)
		})

		// Write paths
		r.Post("/sales", h.RecordSale)
		r.Post("/redemptions", h.Redeem)

		// Leaderboard
		r.Get("/leaderboard", h.GetLeaderboard)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	// Observability
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Healthz)

	return r
}
