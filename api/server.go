/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the reporting frontend

ROUTE GROUPS:
  /api/key-worker-stats/*   Compliance statistics (read-only)
  /api/batch/*              Manual job triggers and run history
  /metrics                  Prometheus scrape endpoint (when configured)
  /health                   Liveness

SECURITY NOTE:
  No authentication middleware. Run behind the gateway that fronts the
  other prison services.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/keyworker/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the parts of the router that vary by deployment.
type RouterOptions struct {
	AllowedOrigins []string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// Stats routes
		r.Route("/key-worker-stats", func(r chi.Router) {
			r.Get("/", h.GetPrisonStats)
			r.Get("/{staffId}/prison/{prisonId}", h.GetStaffStats)
		})

		// Batch routes
		r.Route("/batch", func(r chi.Router) {
			r.Post("/deallocate", h.TriggerDeallocation)
			r.Post("/update-status", h.TriggerStatusUpdate)
			r.Get("/runs", h.ListBatchRuns)
			r.Get("/schedule", h.GetSchedule)
		})
	})

	return r
}
