package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/koicert/registry/cmd/ledger/repository"
	"github.com/koicert/registry/cmd/ledger/routes"
	"github.com/koicert/registry/common/bootstrap"
	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/db"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("ledger")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load ledger config: %v\n", err)
		os.Exit(1)
	}

	opts := []bootstrap.Option{bootstrap.WithCustomConfig(cfg)}
	if cfg.Ledger.Store == "postgres" {
		opts = append(opts, bootstrap.WithDBInitHook(func(database *db.DB) error {
			return repository.EnsureSchema(ctx, database)
		}))
	} else {
		opts = append(opts, bootstrap.WithoutDB())
	}

	// Bootstrap common components (DB, logger, queue, telemetry)
	components, err := bootstrap.Setup(ctx, "ledger", opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap ledger: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	var l ledger.Ledger
	if components.DB != nil {
		l = repository.NewPostgresLedger(components.DB)
	} else {
		l = ledger.NewMemoryLedger()
	}
	if components.Queue != nil {
		l = ledger.NewPublishing(l, components.Queue, cfg.Queue.EventsTopic, components.Logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "ledger"})
	})

	routes.RegisterLedgerRoutes(e, l, components.Logger)

	components.Logger.Info("ledger ready", "store", cfg.Ledger.Store, "events_topic", cfg.Queue.EventsTopic)
	if err := server.New("ledger", cfg.Service.Port, e, components.Logger).Run(ctx); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
