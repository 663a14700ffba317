// Package metrics declares the Prometheus collectors shared across quill.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AnalysisRuns counts analysis attempts by result: success, failure or skipped.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_analysis_runs_total",
		Help: "Style analysis runs by result",
	}, []string{"result"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quill_analysis_duration_seconds",
		Help:    "Duration of the analysis collaborator call",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
	})

	EditsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_edits_recorded_total",
		Help: "Style edits recorded by edit type",
	}, []string{"edit_type"})

	// ProfileCache counts profile cache lookups by result: hit or miss.
	ProfileCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_profile_cache_total",
		Help: "Profile cache lookups by result",
	}, []string{"result"})

	// AggregationRuns counts aggregation runs by result: written, gated or failed.
	AggregationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_aggregation_runs_total",
		Help: "Population aggregation runs by result",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
