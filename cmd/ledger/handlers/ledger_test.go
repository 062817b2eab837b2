package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koicert/registry/cmd/ledger/routes"
	"github.com/koicert/registry/common/ledger"
	"github.com/koicert/registry/common/logger"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// node serves a memory ledger and returns a client speaking to it
func node(t *testing.T) (*ledger.MemoryLedger, *ledger.HTTPLedger, *httptest.Server) {
	t.Helper()
	log := logger.Discard()

	backing := ledger.NewMemoryLedger()
	e := echo.New()
	routes.RegisterLedgerRoutes(e, backing, log)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return backing, ledger.NewHTTPLedgerWithClient(srv.URL, srv.Client(), log), srv
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client, _ := node(t)

	receipt, err := client.MintCertificate(ctx, ledger.MintCall{
		Caller:     "0xA",
		ID:         "KOI-001",
		Attributes: models.Attributes{Variety: "Kohaku", SizeCm: 55},
		PhotoURL:   "https://assets/photos/1.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Sequence)
	assert.Equal(t, models.EventKoiMinted, receipt.Event)

	receipt, err = client.TransferOwnership(ctx, ledger.TransferCall{
		Caller:     "0xA",
		ID:         "KOI-001",
		NewOwner:   "0xB",
		Attributes: models.Attributes{Variety: "Kohaku", SizeCm: 60},
		Note:       "sold",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Sequence)

	raw, err := client.GetKoi(ctx, "KOI-001")
	require.NoError(t, err)
	rec, err := ledger.DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "0xB", rec.CurrentOwnerPrincipal)

	raw, err = client.GetKoiHistory(ctx, "KOI-001")
	require.NoError(t, err)
	entries, err := ledger.DecodeHistory(raw)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestClientErrorMapping(t *testing.T) {
	ctx := context.Background()
	backing, client, _ := node(t)

	_, err := client.MintCertificate(ctx, ledger.MintCall{Caller: "0xA", ID: "KOI-002", PhotoURL: "p"})
	require.NoError(t, err)

	_, err = client.MintCertificate(ctx, ledger.MintCall{Caller: "0xB", ID: "KOI-002", PhotoURL: "p"})
	assert.ErrorIs(t, err, sentinel.ErrDuplicateID)
	assert.ErrorIs(t, err, sentinel.ErrLedgerRejected)

	_, err = client.UpdateKoiStats(ctx, ledger.UpdateCall{Caller: "0xC", ID: "KOI-002", Note: "not mine"})
	assert.ErrorIs(t, err, sentinel.ErrNotAuthorized)

	_, err = client.UpdateKoiStats(ctx, ledger.UpdateCall{Caller: "0xA", ID: "KOI-002"})
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)

	_, err = client.GetKoi(ctx, "KOI-404")
	assert.ErrorIs(t, err, sentinel.ErrRecordNotFound)

	backing.SetUnavailable(true)
	_, err = client.UpdateKoiStats(ctx, ledger.UpdateCall{Caller: "0xA", ID: "KOI-002", Note: "weighed"})
	assert.ErrorIs(t, err, sentinel.ErrLedgerUnreachable)
	assert.False(t, errors.Is(err, sentinel.ErrOutcomeUnknown))
}

func TestMalformedCallIsInvalid(t *testing.T) {
	_, _, srv := node(t)

	resp, err := srv.Client().Post(srv.URL+"/ledger/v1/mint", "application/json", strings.NewReader(`{"id": 7}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
