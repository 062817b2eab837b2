package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintCall(id, caller string) MintCall {
	return MintCall{
		Caller:     caller,
		ID:         id,
		Attributes: models.Attributes{Variety: "Kohaku", SizeCm: 40, AgeLabel: "tosai"},
		PhotoURL:   "photo-1",
		IssuerName: "Aki",
	}
}

func TestMemoryLedgerMintAndRead(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(WithClock(func() time.Time { return time.Unix(1000, 500) }))

	receipt, err := l.MintCertificate(ctx, mintCall("KOI-001", "0xA"))
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Sequence)
	assert.Equal(t, models.EventKoiMinted, receipt.Event)
	assert.NotEmpty(t, receipt.TxHash)

	raw, err := l.GetKoi(ctx, "KOI-001")
	require.NoError(t, err)
	rec, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "0xA", rec.IssuerPrincipal)
	assert.Equal(t, "0xA", rec.CurrentOwnerPrincipal)
	assert.Equal(t, time.Unix(1000, 0).UTC(), rec.MintedAt)

	entry, err := DecodeEntry(receipt.Entry)
	require.NoError(t, err)
	assert.True(t, entry.IsMint())
	assert.Equal(t, "Aki", entry.OwnerDisplayName)
}

func TestMemoryLedgerRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	_, err := l.MintCertificate(ctx, mintCall("KOI-001", "0xA"))
	require.NoError(t, err)

	_, err = l.MintCertificate(ctx, mintCall("KOI-001", "0xB"))
	assert.ErrorIs(t, err, sentinel.ErrDuplicateID)
	assert.ErrorIs(t, err, sentinel.ErrLedgerRejected)
}

func TestMemoryLedgerTransferAuthorization(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	_, err := l.MintCertificate(ctx, mintCall("KOI-001", "0xA"))
	require.NoError(t, err)

	_, err = l.TransferOwnership(ctx, TransferCall{Caller: "0xC", ID: "KOI-001", NewOwner: "0xC", Note: "steal"})
	assert.ErrorIs(t, err, sentinel.ErrNotAuthorized)
	assert.ErrorIs(t, err, sentinel.ErrLedgerRejected)

	// Principals compare case-insensitively
	receipt, err := l.TransferOwnership(ctx, TransferCall{
		Caller:       "0xa",
		ID:           "KOI-001",
		NewOwner:     "0xB",
		NewOwnerName: "Ben",
		Attributes:   models.Attributes{Variety: "Kohaku", SizeCm: 52, AgeLabel: "nisai"},
		Note:         "sold",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Sequence)

	rec, err := DecodeRecord(receipt.Record)
	require.NoError(t, err)
	assert.Equal(t, "0xB", rec.CurrentOwnerPrincipal)
	assert.Equal(t, "photo-1", rec.PhotoURL)
	assert.Equal(t, int64(52), rec.SizeCm)

	_, err = l.TransferOwnership(ctx, TransferCall{Caller: "0xB", ID: "KOI-404", NewOwner: "0xC", Note: "x"})
	assert.ErrorIs(t, err, sentinel.ErrRecordNotFound)
	assert.NotErrorIs(t, err, sentinel.ErrLedgerRejected)
}

func TestMemoryLedgerUpdateAppendsDocuments(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	_, err := l.MintCertificate(ctx, mintCall("KOI-001", "0xA"))
	require.NoError(t, err)

	receipt, err := l.UpdateKoiStats(ctx, UpdateCall{
		Caller:            "0xA",
		ID:                "KOI-001",
		Attributes:        models.Attributes{Variety: "Kohaku", SizeCm: 45},
		AddCertificateURL: "cert-1",
		AddContestURL:     "-",
		Note:              "grew",
	})
	require.NoError(t, err)

	rec, err := DecodeRecord(receipt.Record)
	require.NoError(t, err)
	assert.Equal(t, []string{"cert-1"}, rec.CertificateURLs)
	assert.Empty(t, rec.ContestURLs)
	assert.Equal(t, "0xA", rec.CurrentOwnerPrincipal)

	entry, err := DecodeEntry(receipt.Entry)
	require.NoError(t, err)
	assert.Equal(t, "Aki", entry.OwnerDisplayName)
	assert.Equal(t, "grew", entry.Note)

	_, err = l.UpdateKoiStats(ctx, UpdateCall{Caller: "0xA", ID: "KOI-001", Note: "  "})
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
}

func TestMemoryLedgerTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{time.Unix(2000, 0), time.Unix(1500, 0), time.Unix(2500, 0)}
	i := 0
	l := NewMemoryLedger(WithClock(func() time.Time {
		now := times[i]
		i++
		return now
	}))

	_, err := l.MintCertificate(ctx, mintCall("KOI-001", "0xA"))
	require.NoError(t, err)
	_, err = l.UpdateKoiStats(ctx, UpdateCall{Caller: "0xA", ID: "KOI-001", Note: "clock skew"})
	require.NoError(t, err)
	_, err = l.UpdateKoiStats(ctx, UpdateCall{Caller: "0xA", ID: "KOI-001", Note: "later"})
	require.NoError(t, err)

	raw, err := l.GetKoiHistory(ctx, "KOI-001")
	require.NoError(t, err)
	entries, err := DecodeHistory(raw)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(2000), entries[0].CommittedAt.Unix())
	assert.Equal(t, int64(2000), entries[1].CommittedAt.Unix())
	assert.Equal(t, int64(2500), entries[2].CommittedAt.Unix())
}

func TestMemoryLedgerUnavailable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.SetUnavailable(true)

	_, err := l.MintCertificate(ctx, mintCall("KOI-001", "0xA"))
	assert.ErrorIs(t, err, sentinel.ErrLedgerUnreachable)

	l.SetUnavailable(false)
	raw, err := l.GetKoiHistory(ctx, "KOI-001")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.MintCertificate(cancelled, mintCall("KOI-001", "0xA"))
	assert.ErrorIs(t, err, sentinel.ErrLedgerUnreachable)

	_, err = l.GetKoi(ctx, "KOI-001")
	assert.ErrorIs(t, err, sentinel.ErrRecordNotFound)
}
