package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for pipeline runs.
//
// All metrics are prefixed with "propertysales_":
//   - propertysales_runs_total{status}
//   - propertysales_run_duration_seconds
//   - propertysales_lines_total
//   - propertysales_records_dropped_total{reason}
//   - propertysales_rows_written_total{sink}
//   - propertysales_archive_problems_total{kind}
//   - propertysales_last_run_rows
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	LinesTotal      prometheus.Counter
	DroppedTotal    *prometheus.CounterVec
	RowsWritten     *prometheus.CounterVec
	ProblemsTotal   *prometheus.CounterVec
	LastRunRowCount prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them with reg.
// Each registry can hold one set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propertysales_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "propertysales_run_duration_seconds",
			Help:    "Wall time of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		LinesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "propertysales_lines_total",
			Help: "Raw lines read from archives",
		}),
		DroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propertysales_records_dropped_total",
				Help: "Records dropped by reason",
			},
			[]string{"reason"},
		),
		RowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propertysales_rows_written_total",
				Help: "Rows written per sink",
			},
			[]string{"sink"},
		),
		ProblemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propertysales_archive_problems_total",
				Help: "Skipped archives and members by kind",
			},
			[]string{"kind"},
		),
		LastRunRowCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "propertysales_last_run_rows",
			Help: "Rows produced by the most recent completed run",
		}),
	}
}

// observe records a finished run. A nil receiver is a no-op.
func (m *Metrics) observe(res *Result, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	if res == nil {
		return
	}

	m.RunDuration.Observe(res.Duration.Seconds())
	m.LinesTotal.Add(float64(res.Parse.Lines))

	for reason, n := range map[string]int{
		"short_current":  res.Parse.ShortCurrent,
		"short_archived": res.Parse.ShortArchived,
		"future_date":    res.Normalize.FutureDropped,
		"pre_boundary":   res.Normalize.PreBoundaryDropped,
		"duplicate":      res.Normalize.DuplicatesDropped,
	} {
		if n > 0 {
			m.DroppedTotal.WithLabelValues(reason).Add(float64(n))
		}
	}

	for _, p := range res.Archive.Problems {
		m.ProblemsTotal.WithLabelValues(string(p.Kind)).Inc()
	}
	for _, s := range res.Sinks {
		if s.Status == SinkWritten {
			m.RowsWritten.WithLabelValues(s.Name).Add(float64(res.Rows))
		}
	}
	m.LastRunRowCount.Set(float64(res.Rows))
}
