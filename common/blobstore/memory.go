package blobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/koicert/registry/common/sentinel"
)

// MemoryStore keeps objects in process memory
type MemoryStore struct {
	bucket  string
	baseURL string

	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryStore creates an empty store for bucket
func NewMemoryStore(bucket, baseURL string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		baseURL: baseURL,
		objects: make(map[string]*Object),
	}
}

// Upload stores data at path
func (s *MemoryStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[path]; exists {
		return fmt.Errorf("%w: %s", ErrObjectExists, path)
	}

	s.objects[path] = &Object{
		Bucket:      s.bucket,
		Path:        path,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Digest:      Digest(data),
		Content:     slices.Clone(data),
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

// PublicURL returns the stable URL for path
func (s *MemoryStore) PublicURL(path string) string {
	return publicURL(s.baseURL, s.bucket, path)
}

// Remove deletes every path, reporting each missing one
func (s *MemoryStore) Remove(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if _, exists := s.objects[p]; !exists {
			errs = append(errs, fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, p))
			continue
		}
		delete(s.objects, p)
	}
	return errors.Join(errs...)
}

// Open returns a copy of the object at path
func (s *MemoryStore) Open(ctx context.Context, path string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[path]
	if !exists {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, path)
	}

	out := *obj
	out.Content = slices.Clone(obj.Content)
	return &out, nil
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
