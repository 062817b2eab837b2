package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a key or hash does not exist
var ErrKeyNotFound = errors.New("key not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// Dial connects to addr and verifies the connection with PING
func Dial(ctx context.Context, addr, password string, db int, logger Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("redis connected", "addr", addr, "db", db)
	return NewClient(rdb, logger), nil
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}

// SetNX sets a key only if it doesn't exist
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	wasSet, err := c.redis.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		c.logger.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	c.logger.Debug("redis SETNX", "key", key, "was_set", wasSet)
	return wasSet, nil
}

// Delete removes keys and returns how many existed
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.redis.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	c.logger.Debug("redis DEL", "keys", keys, "deleted", n)
	return n, nil
}

// SetHashFields writes several fields of a hash in one round-trip
func (c *Client) SetHashFields(ctx context.Context, key string, fields map[string]interface{}) error {
	err := c.redis.HSet(ctx, key, fields).Err()
	if err != nil {
		c.logger.Error("redis HSET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set hash %s: %w", key, err)
	}
	c.logger.Debug("redis HSET", "key", key, "field_count", len(fields))
	return nil
}

// GetAllHash retrieves all fields and values of a hash
// Returns ErrKeyNotFound when the hash does not exist.
func (c *Client) GetAllHash(ctx context.Context, key string) (map[string]string, error) {
	val, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis HGETALL failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get all hash fields %s: %w", key, err)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	c.logger.Debug("redis HGETALL", "key", key, "field_count", len(val))
	return val, nil
}

// RunScript evaluates a Lua script, loading it on first use
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, c.redis, keys, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Error("redis EVALSHA failed", "keys", keys, "error", err)
		return nil, fmt.Errorf("failed to run script: %w", err)
	}
	return res, nil
}

// Health pings the server
func (c *Client) Health(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
