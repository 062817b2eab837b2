package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/koicert/registry/common/blobstore"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/metrics"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

var folders = []string{
	models.FolderPhotos,
	models.FolderCerts,
	models.FolderContests,
	models.FolderTransfer,
	models.FolderUpdates,
}

// Preferred extensions; mime's table has several per type in unstable order
var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"image/heic":      ".heic",
	"application/pdf": ".pdf",
}

// AssetStager uploads koi photos and documents ahead of a ledger commit
// and removes them again when the commit does not happen. It never decides
// to roll back on its own.
type AssetStager struct {
	store    blobstore.Store
	maxBytes int64
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewAssetStager creates a stager over store. maxBytes <= 0 disables the size limit.
func NewAssetStager(store blobstore.Store, maxBytes int64, m *metrics.Metrics, log *logger.Logger) *AssetStager {
	return &AssetStager{
		store:    store,
		maxBytes: maxBytes,
		metrics:  m,
		log:      log,
	}
}

// Stage stores data under <folder>/<uuid><ext> and returns its public reference
func (s *AssetStager) Stage(ctx context.Context, data []byte, contentType, folder string) (models.AssetRef, error) {
	if folder == "" {
		folder = models.FolderPhotos
	}
	if !slices.Contains(folders, folder) {
		return models.AssetRef{}, fmt.Errorf("%w: %w: unknown folder %q", sentinel.ErrAssetStagingFailed, sentinel.ErrInvalidInput, folder)
	}
	if len(data) == 0 {
		return models.AssetRef{}, fmt.Errorf("%w: %w: empty payload", sentinel.ErrAssetStagingFailed, sentinel.ErrInvalidInput)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return models.AssetRef{}, fmt.Errorf("%w: %w: payload of %d bytes exceeds %d",
			sentinel.ErrAssetStagingFailed, sentinel.ErrInvalidInput, len(data), s.maxBytes)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	path := folder + "/" + uuid.NewString() + extensionFor(contentType)

	if err := s.store.Upload(ctx, path, data, contentType); err != nil {
		return models.AssetRef{}, fmt.Errorf("%w: upload %s: %w", sentinel.ErrAssetStagingFailed, path, err)
	}
	s.metrics.IncrementStaged(folder)

	ref := models.AssetRef{
		ID:          path,
		URL:         s.store.PublicURL(path),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Digest:      blobstore.Digest(data),
	}

	s.log.Debug("asset staged", "asset_id", ref.ID, "size_bytes", ref.SizeBytes)
	return ref, nil
}

// Unstage removes a staged asset. It is attempted once; a missing asset
// reports ErrAssetNotFound, any other failure ErrUnstageFailed.
func (s *AssetStager) Unstage(ctx context.Context, assetID string) error {
	err := s.store.Remove(ctx, assetID)
	s.metrics.IncrementUnstaged(err == nil)

	switch {
	case err == nil:
		s.log.Debug("asset unstaged", "asset_id", assetID)
		return nil
	case errors.Is(err, sentinel.ErrAssetNotFound):
		return fmt.Errorf("%w: %s", sentinel.ErrAssetNotFound, assetID)
	default:
		return fmt.Errorf("%w: %s: %w", sentinel.ErrUnstageFailed, assetID, err)
	}
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return strings.ToLower(exts[0])
	}
	return ""
}
