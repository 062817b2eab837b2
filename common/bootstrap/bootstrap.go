package bootstrap

import (
	"context"
	"fmt"

	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/db"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/queue"
	"github.com/koicert/registry/common/redis"
	"github.com/koicert/registry/common/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
	)

	// 3. Metrics registry, always present so services can register collectors
	components.Registry = prometheus.NewRegistry()

	// 4. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 5. Initialize redis (if requested)
	if options.withRedis {
		components.Redis, err = redis.Dial(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 6. Initialize queue (if not skipped)
	if !options.skipQueue {
		components.Logger.Info("initializing queue", "type", cfg.Queue.Type)

		switch cfg.Queue.Type {
		case "memory":
			components.Queue = queue.NewMemoryQueue(components.Logger)
		case "kafka":
			components.Queue, err = queue.NewKafkaQueue(cfg.Queue.Brokers, cfg.Queue.ConsumerGroup, components.Logger)
			if err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to create kafka queue: %w", err)
			}
		default:
			components.Shutdown(ctx)
			return nil, fmt.Errorf("unknown queue type: %s", cfg.Queue.Type)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 7. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && (cfg.Telemetry.EnablePprof || cfg.Telemetry.EnableMetrics) {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(cfg.Telemetry, components.Registry, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			// Don't fail startup if telemetry fails
			components.Logger.Warn("failed to start telemetry", "error", err)
		}

		components.addCleanup(func() error {
			return components.Telemetry.Stop(context.Background())
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
