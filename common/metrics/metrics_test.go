package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCommit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCommit("mint", "confirmed", time.Now())
	m.ObserveCommit("mint", "confirmed", time.Now())
	m.ObserveCommit("transfer", "failed", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommitOutcomes.WithLabelValues("mint", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitOutcomes.WithLabelValues("transfer", "failed")))
}

func TestUnstagedResultLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementUnstaged(true)
	m.IncrementUnstaged(false)
	m.IncrementUnstaged(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssetsUnstaged.WithLabelValues("removed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AssetsUnstaged.WithLabelValues("failed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveCommit("mint", "confirmed", time.Now())
		m.IncrementStaged("photos")
		m.IncrementUnstaged(true)
		m.ObserveLedgerSubmit("mint", "ok", time.Now())
		m.IncrementResync()
	})
}
