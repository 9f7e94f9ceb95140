package handlers

import (
	"net/http"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Validator   *auth.JWTValidator
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	RateLimiter *middleware.RateLimiter
	Submit      http.Handler
	History     http.Handler
	Presence    http.Handler
	Scores      *ScoresHandler
	WebSocket   http.Handler
	Ready       http.Handler
	Logger      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	r.Get("/health", HealthHandler())
	if cfg.Ready != nil {
		r.Get("/ready", cfg.Ready.ServeHTTP)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	authenticate := auth.AuthMiddleware(cfg.Validator, cfg.Metrics)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(authenticate)

		// Upgraded connections outlive any request timeout.
		if cfg.WebSocket != nil {
			v1.Get("/ws", cfg.WebSocket.ServeHTTP)
		}

		v1.Group(func(api chi.Router) {
			api.Use(chiMiddleware.Timeout(30 * time.Second))

			api.Route("/scores", cfg.Scores.RegisterRoutes)
			api.Get("/challenges/{id}/submissions", cfg.History.ServeHTTP)
			if cfg.Presence != nil {
				api.Get("/teams/{id}/online", cfg.Presence.ServeHTTP)
			}

			api.Group(func(submit chi.Router) {
				if cfg.RateLimiter != nil {
					submit.Use(cfg.RateLimiter.Middleware)
				}
				submit.Post("/challenges/{id}/submit", cfg.Submit.ServeHTTP)
			})
		})
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("requestId", chiMiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}
