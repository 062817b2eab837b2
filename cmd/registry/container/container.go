package container

import (
	"context"
	"fmt"

	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/common/blobstore"
	"github.com/koicert/registry/common/bootstrap"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/lock"
	"github.com/koicert/registry/common/metrics"
	"github.com/koicert/registry/common/ratelimit"
	"github.com/koicert/registry/common/validation"
)

// Container holds all initialized services and backends (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	Metrics    *metrics.Metrics

	// Backends
	Ledger  ledger.Ledger
	Store   blobstore.Store
	Locker  lock.Locker
	Limiter ratelimit.Limiter // nil when rate limiting is disabled

	// Services
	Registry    *service.Registry
	Stager      *service.AssetStager
	Coordinator *service.CommitCoordinator
	Syncer      *service.ProjectionSyncer
}

// NewContainer initializes all services and backends once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	m := metrics.New(components.Registry)

	l, err := newLedger(components)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, components)
	if err != nil {
		return nil, err
	}

	locker, err := newLocker(components)
	if err != nil {
		return nil, err
	}

	validator, err := validation.NewAttributeValidator(cfg.Registry.AttributeRules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile attribute rules: %w", err)
	}

	// Initialize services (bottom-up: dependencies first)
	registry := service.NewRegistry(l, log,
		service.WithLocker(locker),
		service.WithValidator(validator),
		service.WithMetrics(m),
		service.WithPedigreeDepth(cfg.Registry.PedigreeDepth),
	)
	stager := service.NewAssetStager(store, cfg.Blob.MaxAssetBytes, m, log)
	coordinator := service.NewCommitCoordinator(
		stager,
		registry,
		registry.Guard(),
		cfg.Registry.VerifyBaseURL,
		log,
		service.WithSubmitTimeout(cfg.Ledger.SubmitTimeout),
		service.WithCoordinatorMetrics(m),
	)

	c := &Container{
		Components:  components,
		Metrics:     m,
		Ledger:      l,
		Store:       store,
		Locker:      locker,
		Registry:    registry,
		Stager:      stager,
		Coordinator: coordinator,
	}

	if components.Queue != nil {
		c.Syncer = service.NewProjectionSyncer(components.Queue, cfg.Queue.EventsTopic, registry, log)
	}

	if cfg.RateLimit.Enabled {
		if components.Redis == nil {
			return nil, fmt.Errorf("rate limiting requires redis")
		}
		c.Limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	log.Info("registry container initialized",
		"ledger", cfg.Ledger.Mode,
		"blob_backend", cfg.Blob.Backend,
		"lock_backend", cfg.Registry.LockBackend,
		"attribute_rules", validator.RuleCount(),
		"rate_limit", c.Limiter != nil,
	)

	return c, nil
}

func newLedger(components *bootstrap.Components) (ledger.Ledger, error) {
	cfg := components.Config

	switch cfg.Ledger.Mode {
	case "http":
		return ledger.NewHTTPLedger(cfg.Ledger.URL, cfg.Ledger.ReadTimeout, components.Logger), nil
	case "memory":
		// Single process: events are published here instead of by a ledger node
		var l ledger.Ledger = ledger.NewMemoryLedger()
		if components.Queue != nil {
			l = ledger.NewPublishing(l, components.Queue, cfg.Queue.EventsTopic, components.Logger)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger mode: %s", cfg.Ledger.Mode)
	}
}

func newStore(ctx context.Context, components *bootstrap.Components) (blobstore.Store, error) {
	cfg := components.Config.Blob

	switch cfg.Backend {
	case "memory":
		return blobstore.NewMemoryStore(cfg.Bucket, cfg.PublicBaseURL), nil
	case "redis":
		if components.Redis == nil {
			return nil, fmt.Errorf("redis blob backend requires redis")
		}
		return blobstore.NewRedisStore(components.Redis, cfg.Bucket, cfg.PublicBaseURL), nil
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("postgres blob backend requires a database")
		}
		if err := blobstore.EnsureSchema(ctx, components.DB); err != nil {
			return nil, fmt.Errorf("failed to prepare asset schema: %w", err)
		}
		return blobstore.NewPostgresStore(components.DB, cfg.Bucket, cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Backend)
	}
}

func newLocker(components *bootstrap.Components) (lock.Locker, error) {
	cfg := components.Config.Registry

	switch cfg.LockBackend {
	case "memory":
		return lock.NewMemoryLocker(), nil
	case "redis":
		if components.Redis == nil {
			return nil, fmt.Errorf("redis lock backend requires redis")
		}
		return lock.NewRedisLocker(components.Redis, "lock:", cfg.LockTTL, components.Logger), nil
	default:
		return nil, fmt.Errorf("unknown lock backend: %s", cfg.LockBackend)
	}
}
