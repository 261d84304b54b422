// Command server runs the storefront edge: the browser-facing API that keeps
// the cart and the signed-in session and talks to the shop backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/storefront/internal/app"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("storefront exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.Build(logger.Options{
		Service: "storefront",
		Level:   cfg.LogLevel,
		Format:  logger.Format(cfg.LogFormat),
	})
	slog.SetDefault(log)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("wire storefront: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("storefront starting",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.Bool("expiry_scheduling", cfg.ExpiryScheduling),
	)
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("storefront stopped")
	return nil
}
