package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/cmd/ledger/handlers"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/logger"
)

// RegisterLedgerRoutes registers the ledger node API
func RegisterLedgerRoutes(e *echo.Echo, l ledger.Ledger, log *logger.Logger) {
	h := handlers.NewLedgerHandler(l, log)

	v1 := e.Group("/ledger/v1")
	{
		v1.POST("/mint", h.Mint)                    // POST /ledger/v1/mint
		v1.POST("/transfer", h.Transfer)            // POST /ledger/v1/transfer
		v1.POST("/update", h.Update)                // POST /ledger/v1/update
		v1.GET("/koi/:id", h.GetKoi)                // GET /ledger/v1/koi/KOI-001
		v1.GET("/koi/:id/history", h.GetKoiHistory) // GET /ledger/v1/koi/KOI-001/history
	}
}
