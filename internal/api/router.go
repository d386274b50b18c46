// Package api exposes the pipeline over HTTP: clients post a batch as CSV or
// JSON and get back the aggregates, quality report and anomalies of the run.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-eft-pipeline/internal/config"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/metrics"
	"github.com/johnayoung/go-eft-pipeline/internal/pipeline"
	"github.com/johnayoung/go-eft-pipeline/internal/storage"
)

// NewRouter creates the Chi router with all API routes mounted. store may be
// nil, in which case runs are not persisted and /aggregates is unavailable.
func NewRouter(
	processor *pipeline.Processor,
	store storage.ResultStore,
	mc *metrics.Collector,
	cfg config.ServerConfig,
	log *slog.Logger,
) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewCollector(config.MetricsConfig{}, log)
	}
	if store != nil {
		mc.RegisterHealthChecker(store)
	}

	h := &Handlers{
		processor:    processor,
		store:        store,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger.NewComponentLogger(log, "api"),
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Operations.
		r.Method(http.MethodGet, "/health", mc.HealthHandler())
		r.Method(http.MethodGet, "/metrics", mc.Handler())

		// Submission.
		r.With(rateLimit(cfg.RequestsPerSecond, cfg.Burst)).Post("/batches", h.SubmitBatch)

		// Stored results.
		r.Get("/aggregates", h.ListAggregates)
	})

	return r
}

// rateLimit rejects requests above rps with 429. A non-positive rps disables it.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
