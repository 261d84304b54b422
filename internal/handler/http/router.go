package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// RouterConfig carries the edge settings the router needs.
type RouterConfig struct {
	CORS           middleware.CORSConfig
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies may set X-Forwarded-For for the rate limiter.
	TrustedProxies []string
	// CatalogMaxAge is the Cache-Control max-age, in seconds, of catalog reads.
	CatalogMaxAge int
	PprofEnabled  bool
	PprofCIDRs    []string
}

// NewRouter creates a chi router with all storefront routes registered. ctx
// bounds background work owned by the middleware.
func NewRouter(
	ctx context.Context,
	svc *service.Storefront,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	sessionID := func(context.Context) string { return svc.SessionStatus().SessionID }
	loggedIn := func(context.Context) bool { return svc.SessionStatus().State != session.LoggedOut }

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogger(logger, sessionID))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.PprofEnabled {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	h := NewStorefrontHandler(svc, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustedProxies, logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.CacheControl(cfg.CatalogMaxAge))
			r.Get("/products", h.ListProducts)
			r.Get("/products/{id}", h.GetProduct)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddItem)
			r.Delete("/items/{id}", h.RemoveItem)
			r.Post("/checkout", h.Checkout)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
			r.Post("/logout", h.Logout)
			r.Post("/refresh", h.Refresh)
			r.Get("/session", h.Session)
			r.With(middleware.RequireSession(loggedIn)).Get("/me", h.Me)
		})

		r.Route("/admin/products", func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(middleware.RequireSession(loggedIn))
			r.Post("/", h.CreateListing)
			r.Put("/{id}", h.UpdateListing)
			r.Delete("/{id}", h.DeleteListing)
		})
	})

	return r
}
