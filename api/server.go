/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. AccessLog:     zap request log + HTTP metrics
  4. CORS:          Cross-origin requests for frontend
  On /api only:
  5. Authenticate:  Bearer token to leave.Actor
  6. Idempotency:   Replay of mutating calls with Idempotency-Key

ROUTE GROUPS:
  /api/requests/*         Leave request lifecycle
  /api/balances/*         Balance and ledger reads
  /api/admin/*            Admin delete and balance maintenance
  /api/scenarios/*        Demo scenarios (only when enabled)
  /healthz                Liveness
  /metrics                Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go, idempotency.go: /api middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/metrics"
)

// RouterConfig carries what the router needs beyond the handler.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string

	// Idempotency is optional; without it Idempotency-Key is ignored.
	Idempotency    IdempotencyCache
	IdempotencyTTL time.Duration

	// Metrics is optional; without it /metrics is not mounted.
	Metrics *metrics.Metrics

	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(h.Logger, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))
		if cfg.Idempotency != nil {
			ttl := cfg.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			r.Use(Idempotency(cfg.Idempotency, ttl, h.Logger))
		}

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListLeave)
			r.Post("/", h.ApplyLeave)
			r.Get("/{id}", h.GetLeave)
			r.Put("/{id}", h.EditLeave)
			r.Post("/{id}/decision", h.DecideLeave)
			r.Post("/{id}/cancel", h.CancelLeave)
		})

		r.Route("/balances", func(r chi.Router) {
			r.Get("/{userID}", h.GetBalances)
			r.Get("/{userID}/ledger", h.GetLedger)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Delete("/requests/{id}", h.DeleteLeave)
			r.Post("/balances/allocate", h.AllocateBalance)
			r.Post("/balances/reset", h.ResetBalances)
			r.Post("/balances/bulk", h.BulkAllocate)
		})

		if cfg.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

// AccessLog logs every request with zap and counts it in m when set.
// The route label is chi's pattern, so ids do not explode cardinality.
func AccessLog(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if m != nil {
				m.ObserveHTTP(r.Method, route, status)
			}
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
