package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/logger"
)

// DB wraps pgxpool with common operations
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New creates a new database connection pool
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return Connect(ctx, cfg.DatabaseURL(), cfg.Database, log)
}

// Connect opens a pool against an explicit connection string
func Connect(ctx context.Context, url string, dbCfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if dbCfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(dbCfg.MaxConns)
	}
	if dbCfg.MinConns > 0 {
		poolConfig.MinConns = int32(dbCfg.MinConns)
	}
	if dbCfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = dbCfg.MaxLifetime
	}
	if dbCfg.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = dbCfg.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected", "host", dbCfg.Host, "db", dbCfg.Database)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// InTx runs fn inside a transaction, committing on nil and rolling back otherwise
func (db *DB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.Pool, fn)
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}
