// Package domain defines the entities shared by every ForestShield
// subsystem: regions, alerts, tile models, analysis runs and the
// in-flight per-image intermediate results that flow between them.
package domain

import (
	"time"

	"github.com/forestshield/core/internal/errs"
)

// RegionStatus is the lifecycle status of a monitored region.
type RegionStatus string

const (
	RegionActive RegionStatus = "ACTIVE"
	RegionPaused RegionStatus = "PAUSED"
)

func (s RegionStatus) IsValid() bool {
	switch s {
	case RegionActive, RegionPaused:
		return true
	}
	return false
}

// Center is a geographic point.
type Center struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Center) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Region is a user-declared area to monitor for deforestation.
type Region struct {
	RegionID                    string       `json:"region_id"`
	Name                        string       `json:"name"`
	Center                      Center       `json:"center"`
	RadiusKM                    float64      `json:"radius_km"`
	CloudCoverThreshold         float64      `json:"cloud_cover_threshold"`
	Status                      RegionStatus `json:"status"`
	CreatedAt                   time.Time    `json:"created_at"`
	LastDeforestationPercentage float64      `json:"last_deforestation_percentage"`
	LastAnalysisAt              *time.Time   `json:"last_analysis_at,omitempty"`

	// TileID and RegionTag key the Model Lifecycle Manager's per-tile
	// model store. Both are opaque, caller-supplied values; the core
	// does no geocoding or biome classification of its own.
	TileID    string `json:"tile_id"`
	RegionTag string `json:"region_tag"`
}

// Validate checks the invariants from the data model: coordinate bounds,
// positive radius, and a valid status.
func (r Region) Validate() error {
	if !r.Center.Valid() {
		return errs.New(errs.KindValidation, "region center out of bounds")
	}
	if r.RadiusKM <= 0 {
		return errs.New(errs.KindValidation, "region radius_km must be > 0")
	}
	if r.CloudCoverThreshold < 0 || r.CloudCoverThreshold > 100 {
		return errs.New(errs.KindValidation, "cloud_cover_threshold must be in [0,100]")
	}
	if r.Status != "" && !r.Status.IsValid() {
		return errs.New(errs.KindValidation, "invalid region status")
	}
	return nil
}

// AlertLevel classifies the severity of a detected change.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertLow      AlertLevel = "LOW"
	AlertModerate AlertLevel = "MODERATE"
	AlertHigh     AlertLevel = "HIGH"
	AlertCritical AlertLevel = "CRITICAL"
)

// LevelForDeforestationPct buckets a deforestation percentage into an
// AlertLevel per the Results Consolidator's thresholds.
func LevelForDeforestationPct(pct float64) AlertLevel {
	switch {
	case pct > 15:
		return AlertCritical
	case pct > 10:
		return AlertHigh
	case pct > 5:
		return AlertModerate
	case pct > 3:
		return AlertLow
	default:
		return AlertInfo
	}
}

// Alert is a persisted deforestation event tied to a region.
type Alert struct {
	AlertID                 string     `json:"alert_id"`
	RegionID                string     `json:"region_id"`
	RegionName              string     `json:"region_name"`
	Level                   AlertLevel `json:"level"`
	DeforestationPercentage float64    `json:"deforestation_percentage"`
	ConfidenceScore         float64    `json:"confidence_score"`
	Message                 string     `json:"message"`
	Acknowledged            bool       `json:"acknowledged"`
	Timestamp               time.Time  `json:"timestamp"`

	// DedupeKey is `(region_id, hour-floor(timestamp))`; the RC enforces
	// uniqueness via a conditional put on this key.
	DedupeKey string `json:"dedupe_key"`
}

// AlertDedupeKey derives the deduplication key for a region and timestamp.
func AlertDedupeKey(regionID string, ts time.Time) string {
	floored := ts.UTC().Truncate(time.Hour)
	return regionID + "|" + floored.Format(time.RFC3339)
}
