/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     logrus request logging plus the HTTP request counter
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the settlement screens

ROUTE GROUPS:
  /api/workers/*        Workers, ledgers, attendance, period state
  /api/settlements/*    Calculate and commit
  /api/history/*        Committed snapshots
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness and database reachability

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/monitoring"
)

// RouterOptions configures the ambient parts of the router.
type RouterOptions struct {
	CORSOrigins []string
	Logger      logrus.FieldLogger
	Metrics     *monitoring.Metrics
	// Health reports whether the backing store is reachable. Nil means
	// always healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = h.logger
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", healthHandler(opts.Health))
	r.Handle("/metrics", opts.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Worker routes
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", h.ListWorkers)
			r.Post("/", h.CreateWorker)
			r.Get("/{id}", h.GetWorker)
			r.Post("/{id}/deactivate", h.DeactivateWorker)
			r.Put("/{id}/rate", h.ChangeRate)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Post("/{id}/ledger", h.PostEntry)
			r.Get("/{id}/ledger/verify", h.VerifyLedger)
			r.Get("/{id}/attendance", h.ListAttendance)
			r.Post("/{id}/attendance", h.RecordAttendance)
			r.Get("/{id}/periods", h.GetPeriodState)
			r.Get("/{id}/summary", h.WorkerSummary)
		})

		// Settlement routes
		r.Route("/settlements", func(r chi.Router) {
			r.Post("/calculate", h.Calculate)
			r.Post("/commit", h.Commit)
		})

		// Report routes
		r.Get("/reports/overtime/{year}/{month}", h.MonthlyOvertime)

		// History routes
		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Get("/{id}", h.GetSnapshot)
			r.Delete("/{id}", h.DeleteSnapshot)
		})
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
