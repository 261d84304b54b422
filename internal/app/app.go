// Package app wires the storefront edge together and owns its lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/config"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/storage"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
)

// App wires together all dependencies and runs the storefront edge.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          storage.Store
	sessions       *session.Manager
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// background bounds the renewal loop and the rate limiter janitor.
	background context.Context
	stop       context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize tracing.
	tcfg := tracing.DefaultConfig("storefront")
	tcfg.Environment = cfg.Environment
	tcfg.Enabled = cfg.OTELEnabled
	tcfg.Endpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	tracerShutdown, err := tracing.Setup(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	// Durable storage shared by the cart and the session.
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	// Backend client: retries inside, circuit breaker outside.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.BackendTimeout
	httpCfg.MaxRetries = cfg.BackendMaxRetries
	cbCfg := httpclient.DefaultBreakerConfig("backend")
	cbCfg.Cooldown = cfg.BreakerTimeout
	cbCfg.FailureRatio = cfg.BreakerFailureRatio
	cbCfg.MinRequests = cfg.BreakerMinRequests
	doer := httpclient.NewBreaker(httpclient.New(httpCfg), cbCfg, logger)
	backendClient := backend.New(cfg.BackendURL, doer, logger)

	// Build the dependency graph.
	background, stop := context.WithCancel(context.Background())
	cartStore := cart.NewStore(ctx, store, logger)
	sessions := session.NewManager(ctx, store, backendClient, session.Config{
		RefreshInterval:  cfg.RefreshInterval,
		ExpiryScheduling: cfg.ExpiryScheduling,
		RefreshLead:      cfg.RefreshLead,
		MinRefreshDelay:  cfg.MinRefreshDelay,
		RefreshTimeout:   cfg.RefreshTimeout,
	}, logger)
	opts := service.Options{CheckoutClearsCart: cfg.CheckoutClearsCart}
	if cfg.StorageDriver == config.StorageRedis {
		opts.ReplayStore = store
	}
	storefront := service.New(backendClient, cartStore, sessions, opts, logger)

	// Health checks. Without the backend the cart still works.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("storage", store.Ping)
	healthHandler.RegisterNonCritical("backend", backendClient.Ping)

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSOrigins
	router := handler.NewRouter(background, storefront, healthHandler, logger, handler.RouterConfig{
		CORS:           corsCfg,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: cfg.TrustedProxies,
		CatalogMaxAge:  cfg.CatalogMaxAge,
		PprofEnabled:   cfg.PprofEnabled,
		PprofCIDRs:     cfg.PprofCIDRs,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort)),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		sessions:       sessions,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
		background:     background,
		stop:           stop,
	}, nil
}

// openStorage opens the configured driver and wraps it with tracing.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		store = storage.NewMemory()
	case config.StorageFile:
		store, err = storage.NewFile(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
	case config.StorageRedis:
		rcfg := database.DefaultRedisConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPass
		rcfg.DB = cfg.RedisDB
		rdb, err := database.NewRedisClient(ctx, rcfg)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store = storage.NewRedis(rdb, cfg.RedisKeyPrefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	logger.Info("storage opened", slog.String("driver", cfg.StorageDriver))
	return storage.Traced(store, database.OpTracer{
		System:        cfg.StorageDriver,
		SlowThreshold: cfg.SlowStorageOp,
		Logger:        logger,
	}), nil
}

// Run starts the HTTP server and the session renewal loop and blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.sessions.Start(a.background)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	if err := a.Shutdown(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown gracefully stops all components. The stored cart and session are
// left in place for the next start.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	// Stop renewal before closing the storage it writes to.
	if err := a.sessions.Close(); err != nil {
		a.logger.Error("session manager close error", slog.String("error", err.Error()))
	}
	a.stop()

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", slog.String("error", err.Error()))
	}

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
