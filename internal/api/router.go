package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voicebootix/aidebuggerfoundry/internal/identity"
	"github.com/voicebootix/aidebuggerfoundry/internal/middleware"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Base           *Handler
	Health         *HealthHandler
	Users          identity.UserStore
	Gatherer       prometheus.Gatherer // nil disables /metrics
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	IsDev          bool
}

// NewRouter builds the chi router with global middleware, health, metrics
// and the founder-scoped API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	cfg.Health.RegisterHealth(r)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Users, cfg.IsDev))
		if cfg.Limiter != nil {
			r.Use(middleware.RateLimit(cfg.Limiter, identity.RateKey))
		}
		NewSessionHandler(cfg.Base).RegisterRoutes(r)
		NewContractHandler(cfg.Base, cfg.AllowedOrigins, cfg.IsDev).RegisterRoutes(r)
	})

	return r
}
