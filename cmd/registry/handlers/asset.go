package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/common/blobstore"
	"github.com/koicert/registry/common/sentinel"
)

// AssetHandler serves staged photos and documents at their public URLs
type AssetHandler struct {
	store  blobstore.Store
	bucket string
}

// NewAssetHandler creates a new asset handler for bucket
func NewAssetHandler(store blobstore.Store, bucket string) *AssetHandler {
	return &AssetHandler{
		store:  store,
		bucket: bucket,
	}
}

// Get streams an asset
// GET /assets/:bucket/*
func (h *AssetHandler) Get(c echo.Context) error {
	path := strings.TrimPrefix(c.Param("*"), "/")
	if c.Param("bucket") != h.bucket || path == "" {
		return respondError(c, fmt.Errorf("%w: %s/%s", sentinel.ErrAssetNotFound, c.Param("bucket"), path))
	}

	obj, err := h.store.Open(c.Request().Context(), path)
	if err != nil {
		return respondError(c, err)
	}

	c.Response().Header().Set("ETag", `"`+obj.Digest+`"`)
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return c.Blob(http.StatusOK, obj.ContentType, obj.Content)
}
