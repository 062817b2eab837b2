package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/sentinel"
)

// LedgerHandler exposes a ledger over the node API the registry's HTTP client speaks
type LedgerHandler struct {
	ledger ledger.Ledger
	log    *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(l ledger.Ledger, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: l,
		log:    log,
	}
}

// Mint commits a new certificate
// POST /ledger/v1/mint
func (h *LedgerHandler) Mint(c echo.Context) error {
	var call ledger.MintCall
	if err := decode(c, &call); err != nil {
		return h.respondError(c, err)
	}
	call.Caller = c.Request().Header.Get(clients.HeaderPrincipal)

	receipt, err := h.ledger.MintCertificate(c.Request().Context(), call)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// Transfer commits an ownership change
// POST /ledger/v1/transfer
func (h *LedgerHandler) Transfer(c echo.Context) error {
	var call ledger.TransferCall
	if err := decode(c, &call); err != nil {
		return h.respondError(c, err)
	}
	call.Caller = c.Request().Header.Get(clients.HeaderPrincipal)

	receipt, err := h.ledger.TransferOwnership(c.Request().Context(), call)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// Update commits an attribute change
// POST /ledger/v1/update
func (h *LedgerHandler) Update(c echo.Context) error {
	var call ledger.UpdateCall
	if err := decode(c, &call); err != nil {
		return h.respondError(c, err)
	}
	call.Caller = c.Request().Header.Get(clients.HeaderPrincipal)

	receipt, err := h.ledger.UpdateKoiStats(c.Request().Context(), call)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// GetKoi returns the record tuple
// GET /ledger/v1/koi/:id
func (h *LedgerHandler) GetKoi(c echo.Context) error {
	raw, err := h.ledger.GetKoi(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

// GetKoiHistory returns the history tuples, oldest first
// GET /ledger/v1/koi/:id/history
func (h *LedgerHandler) GetKoiHistory(c echo.Context) error {
	raw, err := h.ledger.GetKoiHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func decode(c echo.Context, call interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(call); err != nil {
		return ledger.Rejected(fmt.Errorf("%w: malformed call: %v", sentinel.ErrInvalidInput, err))
	}
	return nil
}

// respondError writes the node error body the HTTP ledger client maps back
func (h *LedgerHandler) respondError(c echo.Context, err error) error {
	code := sentinel.Code(err)

	var status int
	switch code {
	case "duplicate_id":
		status = http.StatusConflict
	case "not_authorized":
		status = http.StatusForbidden
	case "invalid_input":
		status = http.StatusUnprocessableEntity
	case "record_not_found":
		status = http.StatusNotFound
	case "ledger_rejected":
		status = http.StatusConflict
	case "ledger_unreachable":
		status, code = http.StatusServiceUnavailable, "unavailable"
	default:
		h.log.Error("ledger call failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, ledger.ErrorBody{Code: "internal", Message: "internal error"})
	}

	return c.JSON(status, ledger.ErrorBody{Code: code, Message: err.Error()})
}
