// Package metrics provides Prometheus instrumentation for timequeryd.
//
// Metrics exposed:
//   - timequery_sample_seconds: Histogram of adapter sample duration
//   - timequery_step_seconds: Histogram of cell step duration
//   - timequery_store_size: Gauge of samples held by each cell's time store
//   - timequery_result_rows: Gauge of result rows produced by each cell
//   - timequery_step_results_total: Counter of step outcomes by error code
//   - timequery_errors_total: Counter of errors by component and reason
//   - timequery_stream_dropped_total: Counter of snapshots not delivered to stream subscribers
//
// All per-cell metrics carry the cell label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/timequery/pkg/errcode"
)

// Metrics holds all Prometheus metrics of the daemon.
type Metrics struct {
	SampleSeconds *prometheus.HistogramVec
	StepSeconds   *prometheus.HistogramVec
	StoreSize     *prometheus.GaugeVec
	ResultRows    *prometheus.GaugeVec
	StepResults   *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	StreamDropped *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SampleSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timequery_sample_seconds",
			Help:    "Time spent sampling a cell's adapter",
			Buckets: prometheus.DefBuckets,
		}, []string{"cell", "adapter"}),

		StepSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timequery_step_seconds",
			Help:    "Time spent evaluating one cell step",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}, []string{"cell"}),

		StoreSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timequery_store_size",
			Help: "Samples currently held by the cell's time store",
		}, []string{"cell"}),

		ResultRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timequery_result_rows",
			Help: "Result rows currently held by the cell",
		}, []string{"cell"}),

		StepResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timequery_step_results_total",
			Help: "Cell steps by resulting error code (ok on success)",
		}, []string{"cell", "code"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timequery_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),

		StreamDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timequery_stream_dropped_total",
			Help: "Snapshots that could not be queued for stream subscribers",
		}, []string{"cell"}),
	}
}

// RecordSample records the time spent sampling an adapter.
func (m *Metrics) RecordSample(cell, adapter string, seconds float64) {
	m.SampleSeconds.WithLabelValues(cell, adapter).Observe(seconds)
}

// RecordStep records one step's duration and outcome.
func (m *Metrics) RecordStep(cell string, code errcode.Code, seconds float64) {
	m.StepSeconds.WithLabelValues(cell).Observe(seconds)
	label := string(code)
	if label == "" {
		label = "ok"
	}
	m.StepResults.WithLabelValues(cell, label).Inc()
}

// SetStoreSize sets the number of samples stored by a cell.
func (m *Metrics) SetStoreSize(cell string, n int) {
	m.StoreSize.WithLabelValues(cell).Set(float64(n))
}

// SetResultRows sets the number of result rows of a cell.
func (m *Metrics) SetResultRows(cell string, n int) {
	m.ResultRows.WithLabelValues(cell).Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// RecordStreamDrop counts a snapshot the stream hub did not accept.
func (m *Metrics) RecordStreamDrop(cell string) {
	m.StreamDropped.WithLabelValues(cell).Inc()
}
