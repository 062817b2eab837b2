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

	"github.com/koicert/registry/common/bootstrap"
	"github.com/koicert/registry/common/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (logger, queue, telemetry)
	components, err := bootstrap.Setup(ctx, "fanout", bootstrap.WithoutDB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap fanout: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	log := components.Logger

	hub := NewHub(log)
	go hub.Run(ctx)

	subscriber := NewEventSubscriber(components.Queue, components.Config.Queue.EventsTopic, hub, log)
	if err := subscriber.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe to registry events: %v\n", err)
		os.Exit(1)
	}

	srv := NewServer(hub, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/ws", srv.HandleWebSocket)
	e.GET("/stats", srv.HandleStats)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "fanout"})
	})

	if err := server.New("fanout", components.Config.Service.Port, e, log).Run(ctx); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}
