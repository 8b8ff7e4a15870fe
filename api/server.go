/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend
  5. RequireSchool (under /api): school identity from X-School-ID

ROUTE GROUPS:
  /api/config/*   Monthly configuration
  /api/entries/*  Daily entries
  /api/months/*   Summaries, lifecycle, reports, audit
  /api/scenarios  Demo data loaders
  /metrics        Prometheus scrape endpoint
  /healthz        Liveness + storage ping

SECURITY NOTE:
  Authentication happens upstream; this service trusts X-School-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", SchoolHeader},
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireSchool)

		r.Route("/config/{year}/{month}", func(r chi.Router) {
			r.Get("/", h.GetConfig)
			r.Put("/rice", h.SaveRiceConfig)
			r.Put("/amount", h.SaveAmountConfig)
			r.Put("/preset", h.ApplyPreset)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Post("/", h.CreateEntry)
			r.Put("/{date}", h.UpdateEntry)
			r.Delete("/{date}", h.DeleteEntry)
		})

		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/load", h.LoadScenario)

		r.Route("/months", func(r chi.Router) {
			r.Get("/current", h.GetCurrentMonth)
			r.Route("/{year}/{month}", func(r chi.Router) {
				r.Get("/", h.GetMonth)
				r.Post("/complete", h.CompleteMonth)
				r.Post("/reopen", h.ReopenMonth)
				r.Post("/lock", h.LockMonth)
				r.Post("/unlock", h.UnlockMonth)
				r.Get("/completions", h.ListCompletions)
				r.Post("/reports/{kind}", h.GenerateReport)
				r.Get("/reports/{kind}", h.GetReport)
				r.Get("/audit", h.ListAudit)
			})
		})
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
