package blobstore

import (
	"context"
	"testing"

	"github.com/koicert/registry/common/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "photos/a.jpg", []byte("jpeg-bytes"), "image/jpeg"))

	err := s.Upload(ctx, "photos/a.jpg", []byte("other"), "image/jpeg")
	assert.ErrorIs(t, err, ErrObjectExists)

	obj, err := s.Open(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), obj.Content)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, int64(10), obj.SizeBytes)
	assert.Equal(t, Digest([]byte("jpeg-bytes")), obj.Digest)

	require.NoError(t, s.Upload(ctx, "certs/b.pdf", []byte("pdf"), "application/pdf"))

	err = s.Remove(ctx, "photos/a.jpg", "photos/missing.jpg", "certs/b.pdf")
	assert.ErrorIs(t, err, sentinel.ErrAssetNotFound)
	assert.Contains(t, err.Error(), "photos/missing.jpg")

	_, err = s.Open(ctx, "photos/a.jpg")
	assert.ErrorIs(t, err, sentinel.ErrAssetNotFound)
	_, err = s.Open(ctx, "certs/b.pdf")
	assert.ErrorIs(t, err, sentinel.ErrAssetNotFound)

	assert.NoError(t, s.Remove(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore("koi-assets", "http://localhost:8080/assets"))
}

func TestPublicURL(t *testing.T) {
	s := NewMemoryStore("koi-assets", "https://cdn.example/assets/")
	assert.Equal(t, "https://cdn.example/assets/koi-assets/photos/a.jpg", s.PublicURL("photos/a.jpg"))
}

func TestUploadRejectsBadPaths(t *testing.T) {
	s := NewMemoryStore("koi-assets", "http://x")
	ctx := context.Background()

	for _, p := range []string{"", "/abs.jpg", "photos/../../etc/passwd"} {
		assert.Error(t, s.Upload(ctx, p, []byte("x"), "text/plain"), p)
	}
	assert.Equal(t, 0, s.Len())
}

func TestDigestFormat(t *testing.T) {
	assert.Equal(t,
		"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Digest(nil))
}
