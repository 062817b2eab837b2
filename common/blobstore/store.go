package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrObjectExists is returned when uploading to a path that is already taken
var ErrObjectExists = errors.New("object already exists")

// Store is the off-chain object store holding koi photos and documents
// Paths are relative to the store's bucket. Missing objects are reported
// with sentinel.ErrAssetNotFound.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
	Remove(ctx context.Context, paths ...string) error
	Open(ctx context.Context, path string) (*Object, error)
}

// Object is a stored blob with its metadata
type Object struct {
	Bucket      string
	Path        string
	ContentType string
	SizeBytes   int64
	Digest      string
	Content     []byte
	CreatedAt   time.Time
}

// Digest returns the content hash in sha256:<hex> form
func Digest(data []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}

// publicURL joins base, bucket and path into the URL recorded on the ledger
func publicURL(base, bucket, path string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(path, "/")
}

func validPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return fmt.Errorf("invalid object path %q", path)
	}
	return nil
}
