package domain

import "time"

// AnomalySeverity classifies a detected performance anomaly.
type AnomalySeverity string

const (
	AnomalyNone   AnomalySeverity = ""
	AnomalyMedium AnomalySeverity = "medium_severity"
	AnomalyHigh   AnomalySeverity = "high_severity"
)

// PerformanceEntry is a single analysis outcome recorded for a tile.
type PerformanceEntry struct {
	TileID                string          `json:"tile_id"`
	Timestamp             time.Time       `json:"timestamp"`
	OverallConfidence     float64         `json:"overall_confidence"`
	DataQuality           float64         `json:"data_quality"`
	SpatialCoherence      float64         `json:"spatial_coherence"`
	HistoricalConsistency float64         `json:"historical_consistency"`
	ProcessingTimeMs      float64         `json:"processing_time_ms"`
	PixelsAnalyzed        int64           `json:"pixels_analyzed"`
	ModelReused           bool            `json:"model_reused"`
	TrainingJobName       string          `json:"training_job_name"`
	Anomaly               AnomalySeverity `json:"anomaly,omitempty"`
}

// PerformanceHistory is the append-only, truncated history blob stored
// per tile in the Object Store.
type PerformanceHistory struct {
	TileID  string             `json:"tile_id"`
	Entries []PerformanceEntry `json:"entries"`
}

// MaxHistoryEntries bounds the retained history per tile.
const MaxHistoryEntries = 1000
