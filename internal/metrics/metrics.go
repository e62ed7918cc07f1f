package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline Metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rmwm_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"stage"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rmwm_runs_total",
			Help: "Total number of pipeline runs by final state",
		},
		[]string{"state"},
	)

	// Frame Metrics
	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rmwm_frames_processed_total",
			Help: "Total number of frames written by the inpainting engine",
		},
		[]string{"result"},
	)

	MaskFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rmwm_mask_fallbacks_total",
			Help: "Frames whose mask came from per-frame fallback detection",
		},
	)

	// Acquisition Metrics
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rmwm_downloads_total",
			Help: "Source acquisitions by cache result",
		},
		[]string{"result"},
	)
)

// RecordStage records the duration of a pipeline stage.
func RecordStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordRun counts a finished run by its final state.
func RecordRun(state string) {
	RunsTotal.WithLabelValues(state).Inc()
}

// RecordDownload counts an acquisition as a cache "hit", a "miss" or "local".
func RecordDownload(result string) {
	Downloads.WithLabelValues(result).Inc()
}
