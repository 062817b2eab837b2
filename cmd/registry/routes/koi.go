package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/cmd/registry/container"
	"github.com/koicert/registry/cmd/registry/handlers"
	"github.com/koicert/registry/cmd/registry/middleware"
	commonmw "github.com/koicert/registry/common/middleware"
)

// RegisterKoiRoutes registers all certificate routes
func RegisterKoiRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewKoiHandler(c.Coordinator, c.Registry)

	// Mutations require a principal and are rate limited when enabled
	mutate := []echo.MiddlewareFunc{middleware.ExtractPrincipalStrict()}
	if c.Limiter != nil {
		rl := c.Components.Config.RateLimit
		mutate = append(mutate, commonmw.PrincipalRateLimitMiddleware(c.Limiter, rl.PerPrincipal, rl.WindowSeconds))
	}

	koi := e.Group("/api/v1/koi")
	{
		koi.POST("", h.Mint, mutate...)                                             // POST /api/v1/koi
		koi.POST("/:id/transfer", h.Transfer, mutate...)                            // POST /api/v1/koi/KOI-001/transfer
		koi.POST("/:id/update", h.Update, mutate...)                                // POST /api/v1/koi/KOI-001/update
		koi.GET("/:id", h.Get)                                                      // GET /api/v1/koi/KOI-001
		koi.GET("/:id/history", h.GetHistory)                                       // GET /api/v1/koi/KOI-001/history
		koi.GET("/:id/lineage", h.GetLineage)                                       // GET /api/v1/koi/KOI-001/lineage
		koi.GET("/:id/pedigree", h.GetPedigree)                                     // GET /api/v1/koi/KOI-001/pedigree?depth=3
		koi.GET("/:id/authorize", h.Authorize, middleware.ExtractPrincipalStrict()) // GET /api/v1/koi/KOI-001/authorize
	}
}
