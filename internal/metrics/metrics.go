// Package metrics provides Prometheus metrics for ForestShield:
// counters, gauges, and histograms for the Analysis Orchestrator,
// Model Lifecycle Manager, Region Scheduler, and Results Consolidator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Analysis Orchestrator ──────────────────────────────────────────────────

// RunsStarted tracks analysis runs started, by region.
var RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "runs_started_total",
	Help:      "Total analysis runs started.",
}, []string{"region_id"})

// RunsCompleted tracks analysis runs reaching a terminal status.
var RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "runs_completed_total",
	Help:      "Total analysis runs reaching a terminal status.",
}, []string{"region_id", "status"})

// RunDuration tracks wall-clock run duration in seconds.
var RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "forestshield",
	Name:      "run_duration_seconds",
	Help:      "Analysis run duration in seconds.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
})

// PerImageOutcomes tracks per-image sub-state-machine outcomes.
var PerImageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "per_image_outcomes_total",
	Help:      "Total per-image branch outcomes.",
}, []string{"outcome"})

// WorkerInvocations tracks invoke() calls per worker name and result.
var WorkerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "worker_invocations_total",
	Help:      "Total worker invocations.",
}, []string{"worker", "result"})

// ─── Model Lifecycle Manager ────────────────────────────────────────────────

// ModelsTrained tracks models saved, by tile.
var ModelsTrained = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "models_trained_total",
	Help:      "Total models saved via save_new_model.",
}, []string{"tile_id"})

// ModelsReused tracks decisions to reuse an existing model.
var ModelsReused = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "models_reused_total",
	Help:      "Total analyses that reused an existing model.",
}, []string{"tile_id"})

// KSelectionConfidence tracks the confidence score of elbow-method
// K-selection outcomes.
var KSelectionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "forestshield",
	Name:      "k_selection_confidence",
	Help:      "Elbow-method K-selection confidence score.",
	Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
})

// PerformanceAnomalies tracks anomaly flags attached during
// track_performance, by severity.
var PerformanceAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "performance_anomalies_total",
	Help:      "Total anomaly flags recorded on performance history.",
}, []string{"severity"})

// ─── Region Scheduler ───────────────────────────────────────────────────────

// SchedulerFirings tracks scheduler firings by outcome (fired, skipped).
var SchedulerFirings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "scheduler_firings_total",
	Help:      "Total scheduler firings.",
}, []string{"outcome"})

// SchedulerQueueDepth tracks the live job-queue depth.
var SchedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "forestshield",
	Name:      "scheduler_queue_depth",
	Help:      "Current number of firings waiting in the queue.",
})

// ─── Results Consolidator ───────────────────────────────────────────────────

// AlertsEmitted tracks alerts written, by level.
var AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forestshield",
	Name:      "alerts_emitted_total",
	Help:      "Total alerts recorded, by level.",
}, []string{"level"})

// ConfidenceScore tracks the Results Consolidator's computed confidence.
var ConfidenceScore = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "forestshield",
	Name:      "consolidation_confidence",
	Help:      "Results Consolidator confidence score.",
	Buckets:   []float64{0, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
})

// ─── Distributed Coordinator ────────────────────────────────────────────────

// CoordinatorDegraded reports whether the coordinator is currently
// running in single-replica fallback mode (1) or connected (0).
var CoordinatorDegraded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "forestshield",
	Name:      "coordinator_degraded",
	Help:      "1 if the Distributed Coordinator is in single-replica fallback mode.",
})
