package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/cmd/registry/container"
	"github.com/koicert/registry/cmd/registry/handlers"
)

// RegisterAssetRoutes serves public asset URLs
func RegisterAssetRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAssetHandler(c.Store, c.Components.Config.Blob.Bucket)

	e.GET("/assets/:bucket/*", h.Get) // GET /assets/koi-assets/photos/<uuid>.jpg
}
