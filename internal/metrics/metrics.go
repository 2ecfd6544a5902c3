// Package metrics records per-run scoring metrics on a private Prometheus
// registry, suitable for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder holds the run metrics.
type Recorder struct {
	reg *prometheus.Registry

	rowsScored    prometheus.Counter
	anomalies     *prometheus.CounterVec
	imputed       *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		rowsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargewatch_rows_scored_total",
			Help: "Total number of telemetry rows scored.",
		}),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargewatch_anomalies_total",
				Help: "Rows flagged anomalous, by the decision that flagged them.",
			},
			[]string{"reason"},
		),
		imputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargewatch_imputed_values_total",
				Help: "Missing values filled by imputation, by column.",
			},
			[]string{"column"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chargewatch_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargewatch_last_success_timestamp_seconds",
			Help: "Unix time of the last successful scoring run.",
		}),
	}
	r.reg.MustRegister(r.rowsScored, r.anomalies, r.imputed, r.stageDuration, r.lastSuccess)
	r.reg.MustRegister(collectors.NewBuildInfoCollector())
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveStage records how long a pipeline stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddRows counts scored rows.
func (r *Recorder) AddRows(n int) { r.rowsScored.Add(float64(n)) }

// AddAnomalies counts rows flagged for a reason.
func (r *Recorder) AddAnomalies(reason string, n int) {
	r.anomalies.WithLabelValues(reason).Add(float64(n))
}

// AddImputed counts filled values in a column.
func (r *Recorder) AddImputed(column string, n int) {
	r.imputed.WithLabelValues(column).Add(float64(n))
}

// MarkSuccess stamps the time of a successful run.
func (r *Recorder) MarkSuccess(t time.Time) {
	r.lastSuccess.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry in text exposition format. The write
// is atomic, as the textfile collector requires.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
