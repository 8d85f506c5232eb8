package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the reference data service.
type Metrics struct {
	MetadataOpsTotal    *prometheus.CounterVec // labels: op, outcome
	ConsistencyWarnings prometheus.Counter
	OrphanRepairs       prometheus.Counter

	SeriesPointsWritten prometheus.Counter
	SeriesPointsRead    prometheus.Counter
	SeriesOpDur         *prometheus.HistogramVec // labels: op

	SearchQueriesTotal prometheus.Counter
	IndexedDocs        prometheus.Gauge

	ChangesPublished prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		MetadataOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refdata_metadata_ops_total",
			Help: "Metadata operations by name and outcome",
		}, []string{"op", "outcome"}),
		ConsistencyWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdata_consistency_warnings_total",
			Help: "Reads that surfaced a missing required extension row",
		}),
		OrphanRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdata_orphan_repairs_total",
			Help: "Re-registrations that restored a missing extension row",
		}),

		SeriesPointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdata_series_points_written_total",
			Help: "Observation rows written to the time-series store",
		}),
		SeriesPointsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdata_series_points_read_total",
			Help: "Observation rows returned from the time-series store",
		}),
		SeriesOpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refdata_series_op_duration_seconds",
			Help:    "Time-series store operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		SearchQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdata_search_queries_total",
			Help: "Search queries served from the instrument index",
		}),
		IndexedDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "refdata_indexed_docs",
			Help: "Instruments currently held in the search index",
		}),

		ChangesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdata_changes_published_total",
			Help: "Change events dispatched to listeners",
		}),
	}

	prometheus.MustRegister(
		m.MetadataOpsTotal,
		m.ConsistencyWarnings,
		m.OrphanRepairs,
		m.SeriesPointsWritten,
		m.SeriesPointsRead,
		m.SeriesOpDur,
		m.SearchQueriesTotal,
		m.IndexedDocs,
		m.ChangesPublished,
	)

	return m
}

// The record helpers tolerate a nil receiver so services can run without
// metrics wired, as in tests.

func (m *Metrics) RecordMetadataOp(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.MetadataOpsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) RecordConsistencyWarning() {
	if m == nil {
		return
	}
	m.ConsistencyWarnings.Inc()
}

func (m *Metrics) RecordOrphanRepair() {
	if m == nil {
		return
	}
	m.OrphanRepairs.Inc()
}

func (m *Metrics) RecordSeriesWrite(points int, start time.Time) {
	if m == nil {
		return
	}
	m.SeriesPointsWritten.Add(float64(points))
	m.SeriesOpDur.WithLabelValues("write").Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordSeriesRead(points int, start time.Time) {
	if m == nil {
		return
	}
	m.SeriesPointsRead.Add(float64(points))
	m.SeriesOpDur.WithLabelValues("read").Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordSearchQuery() {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.Inc()
}

func (m *Metrics) SetIndexedDocs(n uint64) {
	if m == nil {
		return
	}
	m.IndexedDocs.Set(float64(n))
}

func (m *Metrics) RecordChangePublished() {
	if m == nil {
		return
	}
	m.ChangesPublished.Inc()
}
