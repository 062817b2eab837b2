package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisWrapper "github.com/koicert/registry/common/redis"
	"github.com/redis/go-redis/v9"
)

// compareAndDelete releases the lock only if we still own it
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

const retryInterval = 25 * time.Millisecond

// RedisLocker provides per-key locks shared by every registry instance
// The TTL bounds how long a crashed holder can block a key.
type RedisLocker struct {
	redis  *redisWrapper.Client
	prefix string
	ttl    time.Duration
	logger redisWrapper.Logger
}

// NewRedisLocker creates a locker storing keys as <prefix><key>
func NewRedisLocker(client *redisWrapper.Client, prefix string, ttl time.Duration, logger redisWrapper.Logger) *RedisLocker {
	return &RedisLocker{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Lock acquires key, polling until ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// Release even if the holder's context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := l.redis.RunScript(ctx, compareAndDelete, []string{redisKey}, token); err != nil {
			l.logger.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
