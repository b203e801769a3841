// Package monitoring holds the Prometheus collectors of the settlement engine.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every recorder is a no-op on a nil receiver, so engine
// components can be built without monitoring.
type Metrics struct {
	LedgerAppends     *prometheus.CounterVec
	CommitLines       *prometheus.CounterVec
	CommitDuration    *prometheus.HistogramVec
	CalculateDuration *prometheus.HistogramVec
	SnapshotsDeleted  prometheus.Counter
	ConcurrentRetries prometheus.Counter
	HTTPRequests      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_ledger_appends_total",
			Help: "Ledger entries appended, by kind and outcome",
		}, []string{"kind", "outcome"}),
		CommitLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_commit_lines_total",
			Help: "Per-worker commit results, by settlement kind and outcome",
		}, []string{"kind", "outcome"}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_commit_duration_seconds",
			Help:    "Wall time of a whole commit batch",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		CalculateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_calculate_duration_seconds",
			Help:    "Wall time of a draft calculation",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		SnapshotsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_snapshots_deleted_total",
			Help: "History snapshots reversed and deleted",
		}),
		ConcurrentRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_concurrent_modification_retries_total",
			Help: "Retries caused by a failed optimistic head check",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "status"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.LedgerAppends,
		m.CommitLines,
		m.CommitDuration,
		m.CalculateDuration,
		m.SnapshotsDeleted,
		m.ConcurrentRetries,
		m.HTTPRequests,
	)
	return m
}

func (m *Metrics) IncLedgerAppend(kind, outcome string) {
	if m == nil || m.LedgerAppends == nil {
		return
	}
	m.LedgerAppends.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncCommitLine(kind, outcome string) {
	if m == nil || m.CommitLines == nil {
		return
	}
	m.CommitLines.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveCommit(kind string, since time.Time) {
	if m == nil || m.CommitDuration == nil {
		return
	}
	m.CommitDuration.WithLabelValues(kind).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ObserveCalculate(kind string, since time.Time) {
	if m == nil || m.CalculateDuration == nil {
		return
	}
	m.CalculateDuration.WithLabelValues(kind).Observe(time.Since(since).Seconds())
}

func (m *Metrics) IncSnapshotDeleted() {
	if m == nil || m.SnapshotsDeleted == nil {
		return
	}
	m.SnapshotsDeleted.Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil || m.ConcurrentRetries == nil {
		return
	}
	m.ConcurrentRetries.Inc()
}

func (m *Metrics) IncHTTPRequest(route, status string) {
	if m == nil || m.HTTPRequests == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
