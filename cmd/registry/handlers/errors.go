package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`

	// Present for coordinated commits only
	State           string            `json:"state,omitempty"`
	Staged          []models.AssetRef `json:"staged,omitempty"`
	RolledBack      bool              `json:"rolled_back,omitempty"`
	UnstageFailures []string          `json:"unstage_failures,omitempty"`
}

// StatusFor maps the failure taxonomy onto HTTP status codes
func StatusFor(err error) int {
	switch sentinel.Code(err) {
	case "outcome_unknown":
		return http.StatusAccepted
	case "duplicate_id", "lineage_already_set", "ledger_rejected":
		return http.StatusConflict
	case "record_not_found", "asset_not_found":
		return http.StatusNotFound
	case "not_authorized":
		return http.StatusForbidden
	case "invalid_input":
		return http.StatusBadRequest
	case "asset_staging_failed":
		return http.StatusBadGateway
	case "ledger_unreachable", "record_busy":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status
func respondError(c echo.Context, err error) error {
	body := ErrorResponse{
		Error:   sentinel.Code(err),
		Message: err.Error(),
	}

	var commitErr *service.CommitError
	if errors.As(err, &commitErr) {
		body.State = commitErr.State.String()
		body.Staged = commitErr.Staged
		body.RolledBack = commitErr.RolledBack
		for _, unstageErr := range commitErr.UnstageErrors {
			body.UnstageFailures = append(body.UnstageFailures, unstageErr.Error())
		}
	}

	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		body.Message = "internal error"
	}
	return c.JSON(status, body)
}
