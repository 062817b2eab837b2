package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

func serve(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return respondError(c, err)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestInternalErrorsAreMasked(t *testing.T) {
	rec, body := serve(t, errors.New("pgx: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", body.Error)
	assert.Equal(t, "internal error", body.Message)
}

func TestCommitErrorDetails(t *testing.T) {
	staged := []models.AssetRef{{ID: "photos/a.jpg"}, {ID: "certs/b.pdf"}}
	err := &service.CommitError{
		Op:            "mint",
		State:         service.Failed,
		Cause:         fmt.Errorf("%w: offline", sentinel.ErrLedgerUnreachable),
		Staged:        staged,
		RolledBack:    true,
		UnstageErrors: []error{errors.New("certs/b.pdf: timeout")},
	}

	rec, body := serve(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "ledger_unreachable", body.Error)
	assert.Equal(t, "failed", body.State)
	assert.True(t, body.RolledBack)
	assert.Len(t, body.Staged, 2)
	assert.Equal(t, []string{"certs/b.pdf: timeout"}, body.UnstageFailures)
	assert.Contains(t, body.Message, "1 of 2 staged assets removed")
}

func TestIndeterminateCommitIsAccepted(t *testing.T) {
	err := &service.CommitError{
		Op:     "transfer",
		State:  service.Indeterminate,
		Cause:  fmt.Errorf("%w: deadline exceeded", sentinel.ErrOutcomeUnknown),
		Staged: []models.AssetRef{{ID: "transfer/a.jpg"}},
	}

	rec, body := serve(t, err)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "indeterminate", body.State)
	assert.False(t, body.RolledBack)
	assert.Contains(t, body.Message, "re-check the record")
}
