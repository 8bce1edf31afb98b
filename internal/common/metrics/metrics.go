// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScenesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_scenes_completed_total",
			Help: "Total number of scenes that reached the done state",
		},
		[]string{"mode"},
	)

	ScenesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_scenes_failed_total",
			Help: "Total number of scenes that reached the failed state",
		},
		[]string{"mode", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of each scene processing stage in seconds",
		},
		[]string{"stage"},
	)

	ExpertQueryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_expert_query_failures_total",
			Help: "Total number of failed expert source queries",
		},
		[]string{"source"},
	)

	SynthesisFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_synthesis_fallbacks_total",
			Help: "Total number of scenes that fell back to expert concatenation",
		},
	)

	ScenesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_scenes_active",
			Help: "Number of scenes currently being processed",
		},
	)
)
