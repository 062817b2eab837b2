package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registry commits.
// Tracks commit outcomes, staging activity and ledger latency.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommitOutcomes       *prometheus.CounterVec
	CommitDuration       *prometheus.HistogramVec
	AssetsStaged         *prometheus.CounterVec
	AssetsUnstaged       *prometheus.CounterVec
	LedgerSubmitDuration *prometheus.HistogramVec
	ProjectionResyncs    prometheus.Counter
}

// New creates a new Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommitOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koi_commit_outcomes_total",
			Help: "Terminal outcomes of coordinated commits by operation",
		}, []string{"op", "outcome"}),
		CommitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "koi_commit_duration_seconds",
			Help:    "End-to-end duration of coordinated commits (staging, submission, rollback)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
		AssetsStaged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koi_assets_staged_total",
			Help: "Assets uploaded to the blob store by folder",
		}, []string{"folder"}),
		AssetsUnstaged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koi_assets_unstaged_total",
			Help: "Rollback removals of staged assets by result",
		}, []string{"result"}),
		LedgerSubmitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "koi_ledger_submit_duration_seconds",
			Help:    "Duration of ledger submissions until confirmation or rejection",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"call", "result"}),
		ProjectionResyncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "koi_projection_resyncs_total",
			Help: "Times a record projection was resynchronized from the ledger",
		}),
	}
}

// ObserveCommit records a terminal commit outcome.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCommit(op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.CommitOutcomes.WithLabelValues(op, outcome).Inc()
	m.CommitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// IncrementStaged records an uploaded asset.
func (m *Metrics) IncrementStaged(folder string) {
	if m == nil {
		return
	}
	m.AssetsStaged.WithLabelValues(folder).Inc()
}

// IncrementUnstaged records a rollback removal attempt.
func (m *Metrics) IncrementUnstaged(ok bool) {
	if m == nil {
		return
	}
	result := "removed"
	if !ok {
		result = "failed"
	}
	m.AssetsUnstaged.WithLabelValues(result).Inc()
}

// ObserveLedgerSubmit records the latency of one ledger call.
func (m *Metrics) ObserveLedgerSubmit(call, result string, start time.Time) {
	if m == nil {
		return
	}
	m.LedgerSubmitDuration.WithLabelValues(call, result).Observe(time.Since(start).Seconds())
}

// IncrementResync records a projection resync.
func (m *Metrics) IncrementResync() {
	if m == nil {
		return
	}
	m.ProjectionResyncs.Inc()
}
