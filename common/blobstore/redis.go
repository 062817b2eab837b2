package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisWrapper "github.com/koicert/registry/common/redis"
	"github.com/koicert/registry/common/sentinel"
	"github.com/redis/go-redis/v9"
)

// createIfAbsent writes the object hash only if the key is free
// KEYS[1] object key; ARGV content, content_type, digest, size, created_at
var createIfAbsent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'content', ARGV[1],
  'content_type', ARGV[2],
  'digest', ARGV[3],
  'size', ARGV[4],
  'created_at', ARGV[5])
return 1
`)

// RedisStore keeps each object as a hash under asset:<bucket>:<path>
type RedisStore struct {
	redis   *redisWrapper.Client
	bucket  string
	baseURL string
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redisWrapper.Client, bucket, baseURL string) *RedisStore {
	return &RedisStore{
		redis:   client,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

func (s *RedisStore) key(path string) string {
	return fmt.Sprintf("asset:%s:%s", s.bucket, path)
}

// Upload stores data at path
func (s *RedisStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := validPath(path); err != nil {
		return err
	}

	res, err := s.redis.RunScript(ctx, createIfAbsent, []string{s.key(path)},
		data,
		contentType,
		Digest(data),
		len(data),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}

	if created, _ := res.(int64); created != 1 {
		return fmt.Errorf("%w: %s", ErrObjectExists, path)
	}
	return nil
}

// PublicURL returns the stable URL for path
func (s *RedisStore) PublicURL(path string) string {
	return publicURL(s.baseURL, s.bucket, path)
}

// Remove deletes every path, reporting each missing one
func (s *RedisStore) Remove(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		n, err := s.redis.Delete(ctx, s.key(p))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
			continue
		}
		if n == 0 {
			errs = append(errs, fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, p))
		}
	}
	return errors.Join(errs...)
}

// Open loads the object at path
func (s *RedisStore) Open(ctx context.Context, path string) (*Object, error) {
	fields, err := s.redis.GetAllHash(ctx, s.key(path))
	if errors.Is(err, redisWrapper.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return &Object{
		Bucket:      s.bucket,
		Path:        path,
		ContentType: fields["content_type"],
		SizeBytes:   size,
		Digest:      fields["digest"],
		Content:     []byte(fields["content"]),
		CreatedAt:   time.Unix(created, 0).UTC(),
	}, nil
}
