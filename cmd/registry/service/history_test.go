package service_test

import (
	"testing"
	"time"

	"github.com/koicert/registry/cmd/registry/service"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailKeepsIdenticalEntries(t *testing.T) {
	trail := service.NewMemoryTrail()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entry := models.HistoryEntry{OwnerPrincipal: "0xA", Note: "checkup", SizeCm: 40, CommittedAt: at}
	later := models.HistoryEntry{OwnerPrincipal: "0xB", Note: "sold", SizeCm: 41, CommittedAt: at.Add(time.Hour)}

	require.NoError(t, trail.Append("KOI-001", entry))
	require.NoError(t, trail.Append("KOI-001", entry))
	require.NoError(t, trail.Append("KOI-001", later))

	assert.Equal(t, 3, trail.Len("KOI-001"))
	assert.Equal(t, []models.HistoryEntry{entry, entry, later}, trail.ReadAll("KOI-001"))
}

func TestTrailReadAllReturnsCopy(t *testing.T) {
	trail := service.NewMemoryTrail()
	require.NoError(t, trail.Append("KOI-001", models.HistoryEntry{Note: "mint"}))

	got := trail.ReadAll("KOI-001")
	got[0].Note = "edited"

	assert.Equal(t, "mint", trail.ReadAll("KOI-001")[0].Note)
}

func TestTrailSeparatesRecords(t *testing.T) {
	trail := service.NewMemoryTrail()
	require.NoError(t, trail.Append("KOI-001", models.HistoryEntry{Note: "mint"}))

	assert.Empty(t, trail.ReadAll("KOI-002"))
	assert.Zero(t, trail.Len("KOI-002"))
	assert.ErrorIs(t, trail.Append("", models.HistoryEntry{}), sentinel.ErrInvalidInput)
}
