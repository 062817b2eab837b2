package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// Limiter is what the HTTP middleware needs
type Limiter interface {
	CheckPrincipalLimit(ctx context.Context, principal string, limit int64, windowSec int) (*RateLimitResult, error)
}

// RateLimiter provides per-principal rate limiting using Redis + Lua
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRateLimiter creates a new rate limiter with embedded Lua script
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// CheckPrincipalLimit checks the mutation limit for one principal
// Principals are case-insensitive, so the key is lowercased.
func (r *RateLimiter) CheckPrincipalLimit(ctx context.Context, principal string, limit int64, windowSec int) (*RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:principal:%s", strings.ToLower(principal))
	return r.checkLimit(ctx, key, limit, windowSec)
}

// checkLimit executes the rate limit Lua script
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*RateLimitResult, error) {
	result, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Parse result array: {allowed, current_count, limit, retry_after}
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		ints[i] = n
	}

	res := &RateLimitResult{
		Allowed:           ints[0] == 1,
		CurrentCount:      ints[1],
		Limit:             ints[2],
		RetryAfterSeconds: ints[3],
	}

	if !res.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit,
			"retry_after", res.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit)
	}

	return res, nil
}

// ResetPrincipal clears a principal's counter (tests/admin)
func (r *RateLimiter) ResetPrincipal(ctx context.Context, principal string) error {
	return r.redis.Del(ctx, fmt.Sprintf("rate_limit:principal:%s", strings.ToLower(principal))).Err()
}
