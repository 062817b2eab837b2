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

	"github.com/koicert/registry/cmd/registry/container"
	regmw "github.com/koicert/registry/cmd/registry/middleware"
	"github.com/koicert/registry/cmd/registry/routes"
	"github.com/koicert/registry/common/bootstrap"
	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("registry")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load registry config: %v\n", err)
		os.Exit(1)
	}

	// Bootstrap common components (logger, queue, telemetry, optional redis and DB)
	components, err := bootstrap.Setup(ctx, "registry", bootstrapOptions(cfg)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap registry: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	if serviceContainer.Syncer != nil {
		if err := serviceContainer.Syncer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start projection sync: %v\n", err)
			os.Exit(1)
		}
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startServer(ctx, e, components)
}

// bootstrapOptions only connects the backends the configuration selects
func bootstrapOptions(cfg *config.Config) []bootstrap.Option {
	opts := []bootstrap.Option{
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithRedis(cfg.Blob.Backend == "redis" || cfg.Registry.LockBackend == "redis" || cfg.RateLimit.Enabled),
	}
	if cfg.Blob.Backend != "postgres" {
		opts = append(opts, bootstrap.WithoutDB())
	}
	return opts
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(regmw.RequestContext())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "registry",
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "registry",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterKoiRoutes(e, serviceContainer)
	routes.RegisterAssetRoutes(e, serviceContainer)
}

// startServer serves until the process is signalled
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port

	srv := server.New("registry", port, e, components.Logger)
	if err := srv.Run(ctx); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
