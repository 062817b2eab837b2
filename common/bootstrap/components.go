package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/db"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/queue"
	"github.com/koicert/registry/common/redis"
	"github.com/koicert/registry/common/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *redis.Client
	Queue     queue.Queue
	Telemetry *telemetry.Telemetry
	Registry  *prometheus.Registry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}

	return nil
}

// AddCleanup registers a cleanup function run on Shutdown
func (c *Components) AddCleanup(fn func() error) {
	c.addCleanup(fn)
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
