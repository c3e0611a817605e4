// Package metrics exports reconciliation outcomes to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"formacal/internal/reconcile"
)

// Recorder is a reconcile.Observer backed by Prometheus collectors.
type Recorder struct {
	projectsAnalyzed   *prometheus.CounterVec
	inconsistentFields *prometheus.CounterVec
	repairs            *prometheus.CounterVec
	storeRetries       *prometheus.CounterVec
	lastAnalysis       prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		projectsAnalyzed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formacal_projects_analyzed_total",
			Help: "Projects analyzed by result",
		}, []string{"result"}),
		inconsistentFields: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formacal_inconsistent_fields_total",
			Help: "Inconsistent project fields found by analysis",
		}, []string{"field"}),
		repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formacal_repairs_total",
			Help: "Project repairs by status",
		}, []string{"status"}),
		storeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formacal_store_retries_total",
			Help: "Retried store calls by operation",
		}, []string{"op"}),
		lastAnalysis: factory.NewGauge(prometheus.GaugeOpts{
			Name: "formacal_last_analysis_timestamp_seconds",
			Help: "Unix time of the last project analysis",
		}),
	}
}

func (r *Recorder) ProjectAnalyzed(report *reconcile.Report) {
	result := "consistent"
	if !report.Consistent() {
		result = "inconsistent"
	}
	r.projectsAnalyzed.WithLabelValues(result).Inc()
	for _, d := range report.Fields {
		r.inconsistentFields.WithLabelValues(string(d.Field)).Inc()
	}
	r.lastAnalysis.Set(float64(report.AnalyzedAt.Unix()))
}

func (r *Recorder) RepairFinished(_ string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	r.repairs.WithLabelValues(status).Inc()
}

func (r *Recorder) StoreRetry(op string) {
	r.storeRetries.WithLabelValues(op).Inc()
}
