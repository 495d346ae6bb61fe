// Package consolidator implements the Results Consolidator: aggregate
// statistics, cluster-shift risk classification, weighted confidence
// scoring, and idempotent alert emission for a completed analysis run.
package consolidator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
	"github.com/forestshield/core/internal/metrics"
	"github.com/forestshield/core/internal/worker"
)

// Weights indexes the four confidence-scoring terms in the order spec
// §4.7 step 4 enumerates them.
type Weights struct {
	DataQuality          float64
	SpatialCoherence     float64
	TemporalAccuracy     float64
	ModelAgreement       float64
}

// Config tunes the scoring model. NominalRevisit is the expected gap
// between successive satellite passes over the same tile; temporal
// accuracy saturates once the observed span reaches it.
type Config struct {
	Weights             Weights
	NominalRevisit      time.Duration
	NotificationChannel string
}

func DefaultConfig() Config {
	return Config{
		Weights:             Weights{DataQuality: 0.30, SpatialCoherence: 0.25, TemporalAccuracy: 0.20, ModelAgreement: 0.25},
		NominalRevisit:      16 * 24 * time.Hour,
		NotificationChannel: "forestshield-alerts",
	}
}

// AlertStore is the subset of the Shared State Store RC needs: the
// conditional alert insert that makes re-running RC on the same inputs
// a no-op the second time.
type AlertStore interface {
	PutAlertIfAbsent(ctx context.Context, a domain.Alert) (bool, error)
}

// PerformanceTracker is the subset of the Model Lifecycle Manager RC
// invokes asynchronously after consolidating — never on the request path.
type PerformanceTracker interface {
	TrackPerformance(ctx context.Context, entry domain.PerformanceEntry)
}

// ClusterSnapshot is a single image's K-means output as RC needs it for
// cluster-shift detection: one centroid NDVI and pixel share per
// cluster index, plus which cluster the model flagged as degrading.
type ClusterSnapshot struct {
	CentroidNDVI        []float64
	PixelShare           []float64
	DegradationCluster  int
}

// ImageResult is one entry of AO's per-image fan-out, the unit RC
// consolidates across.
type ImageResult struct {
	ImageID          string
	TileID           string
	Success          bool
	Timestamp        time.Time
	Statistics       worker.VegetationStatistics
	Clusters         *ClusterSnapshot
	ModelUsed        string
	ProcessingTimeMs float64
}

// AggregateStats are RC's step-1 rollups across all successful images.
type AggregateStats struct {
	MeanVegetationCoverage float64
	MeanNDVI               float64
	TotalPixels            int64
	DataQualityPct         float64
}

// Result is RC's full consolidation outcome for one analysis run.
type Result struct {
	Stats                   AggregateStats
	RiskLevel               domain.AlertLevel
	DeforestationPercentage float64
	Confidence              float64
	AlertCreated            bool
	Alert                   domain.Alert
}

// Consolidator implements spec §4.7's algorithm.
type Consolidator struct {
	cfg     Config
	store   AlertStore
	tracker PerformanceTracker
	workers domain.WorkerInvoker
	log     *zap.Logger
}

func New(cfg Config, store AlertStore, tracker PerformanceTracker, workers domain.WorkerInvoker, log *zap.Logger) *Consolidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consolidator{cfg: cfg, store: store, tracker: tracker, workers: workers, log: log.Named("consolidator")}
}

// Consolidate runs the full RC algorithm over one region's per-image
// results and, if the classified risk is above INFO, writes a
// deduplicated alert and dispatches a notification.
func (c *Consolidator) Consolidate(ctx context.Context, regionID, regionName string, images []ImageResult) (Result, error) {
	successful := make([]ImageResult, 0, len(images))
	for _, img := range images {
		if img.Success {
			successful = append(successful, img)
		}
	}
	sort.Slice(successful, func(i, j int) bool { return successful[i].Timestamp.Before(successful[j].Timestamp) })

	stats := aggregateStats(images, successful)
	deforestationPct, shifts := clusterShiftAnalysis(successful)
	risk := domain.LevelForDeforestationPct(deforestationPct)
	confidence := c.scoreConfidence(stats, successful, shifts)

	result := Result{
		Stats:                   stats,
		RiskLevel:               risk,
		DeforestationPercentage: deforestationPct,
		Confidence:              confidence,
	}
	metrics.ConfidenceScore.Observe(confidence)

	if risk != domain.AlertInfo {
		now := time.Now().UTC()
		alert := domain.Alert{
			AlertID:                 fmt.Sprintf("alert-%s-%d", regionID, now.UnixNano()),
			RegionID:                regionID,
			RegionName:              regionName,
			Level:                   risk,
			DeforestationPercentage: deforestationPct,
			ConfidenceScore:         confidence,
			Message:                 alertMessage(regionName, risk, deforestationPct),
			Timestamp:               now,
			DedupeKey:               domain.AlertDedupeKey(regionID, now),
		}
		created, err := c.store.PutAlertIfAbsent(ctx, alert)
		if err != nil {
			return Result{}, errs.Wrap(errs.KindTransient, err, "write alert")
		}
		result.AlertCreated = created
		result.Alert = alert

		if created {
			metrics.AlertsEmitted.WithLabelValues(string(risk)).Inc()
			c.notify(ctx, alert)
		}
	}

	c.trackAllAsync(images)

	return result, nil
}

func aggregateStats(all, successful []ImageResult) AggregateStats {
	if len(successful) == 0 {
		return AggregateStats{}
	}
	var sumCoverage, sumNDVI float64
	var totalPixels int64
	for _, img := range successful {
		sumCoverage += img.Statistics.VegetationCoverage
		sumNDVI += img.Statistics.MeanNDVI
		totalPixels += img.Statistics.ValidPixels
	}
	n := float64(len(successful))
	dataQuality := 0.0
	if len(all) > 0 {
		dataQuality = float64(len(successful)) / float64(len(all))
	}
	return AggregateStats{
		MeanVegetationCoverage: sumCoverage / n,
		MeanNDVI:               sumNDVI / n,
		TotalPixels:            totalPixels,
		DataQualityPct:         dataQuality,
	}
}

// clusterShift is one detected degradation shift between two
// consecutive images, keyed by the cluster index that degraded.
type clusterShift struct {
	clusterIdx  int
	centroidOld float64
	centroidNew float64
}

// clusterShiftAnalysis implements spec §4.7 step 3. With fewer than two
// successful images there is no trend to measure, so the deforestation
// percentage defaults to zero (classified INFO).
func clusterShiftAnalysis(successful []ImageResult) (deforestationPct float64, shifts []clusterShift) {
	if len(successful) < 2 {
		return 0, nil
	}
	for i := 0; i < len(successful)-1; i++ {
		a, b := successful[i].Clusters, successful[i+1].Clusters
		if a == nil || b == nil || len(a.CentroidNDVI) != len(b.CentroidNDVI) {
			continue // clustering changed shape between passes; skip this pair
		}
		for k := range a.CentroidNDVI {
			centroidDrop := a.CentroidNDVI[k] - b.CentroidNDVI[k]
			shareGrowth := b.PixelShare[k] - a.PixelShare[k]
			if centroidDrop >= 0.15 && shareGrowth >= 0.05 {
				shifts = append(shifts, clusterShift{clusterIdx: k, centroidOld: a.CentroidNDVI[k], centroidNew: b.CentroidNDVI[k]})
			}
		}
	}

	first, last := successful[0], successful[len(successful)-1]
	deforestationPct = math.Max(0, (first.Statistics.VegetationCoverage-last.Statistics.VegetationCoverage)*100)
	return deforestationPct, shifts
}

// scoreConfidence implements spec §4.7 step 4's weighted sum.
func (c *Consolidator) scoreConfidence(stats AggregateStats, successful []ImageResult, shifts []clusterShift) float64 {
	w := c.cfg.Weights

	spatialCoherence := 1.0
	if len(shifts) > 0 {
		centroids := make([]float64, len(shifts))
		for i, s := range shifts {
			centroids[i] = s.centroidNew
		}
		std := stddev(centroids)
		normalized := math.Min(std/1.0, 1.0) // NDVI centroids range [-1,1]; 1.0 is the widest possible spread
		spatialCoherence = 1 - normalized
	}

	temporalAccuracy := 1.0
	if len(successful) >= 2 {
		span := successful[len(successful)-1].Timestamp.Sub(successful[0].Timestamp)
		temporalAccuracy = math.Min(float64(span)/float64(c.cfg.NominalRevisit), 1.0)
	}

	modelAgreement := 1.0
	if len(successful) > 0 {
		counts := map[int]int{}
		for _, img := range successful {
			if img.Clusters != nil {
				counts[img.Clusters.DegradationCluster]++
			}
		}
		mode, modeCount := -1, 0
		for cluster, n := range counts {
			if n > modeCount {
				mode, modeCount = cluster, n
			}
		}
		if mode >= 0 {
			modelAgreement = float64(modeCount) / float64(len(successful))
		}
	}

	return w.DataQuality*stats.DataQualityPct +
		w.SpatialCoherence*spatialCoherence +
		w.TemporalAccuracy*temporalAccuracy +
		w.ModelAgreement*modelAgreement
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func alertMessage(regionName string, level domain.AlertLevel, pct float64) string {
	return fmt.Sprintf("%s deforestation risk detected in %s: %.1f%% vegetation coverage loss", level, regionName, pct)
}

// notify dispatches the alert summary through the notifier worker. A
// delivery failure is logged, not propagated — the alert is already
// durably recorded in SSS regardless of whether the notification lands.
func (c *Consolidator) notify(ctx context.Context, alert domain.Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		c.log.Warn("marshal alert for notification failed", zap.Error(err))
		return
	}
	var resp worker.NotifierResponse
	err = worker.InvokeTyped(ctx, c.workers, worker.Notifier, worker.NotifierRequest{
		Channel: c.cfg.NotificationChannel,
		Subject: fmt.Sprintf("[%s] %s", alert.Level, alert.RegionName),
		Body:    string(body),
	}, &resp)
	if err != nil {
		c.log.Warn("notifier dispatch failed", zap.String("alert_id", alert.AlertID), zap.Error(err))
	}
}

// trackAllAsync fires MLM.track_performance for every image without
// blocking the caller, per spec §4.7 step 6. It runs on a background
// context since the triggering request's context ends at Consolidate's
// return.
func (c *Consolidator) trackAllAsync(images []ImageResult) {
	for _, img := range images {
		entry := domain.PerformanceEntry{
			TileID:                img.TileID,
			Timestamp:             img.Timestamp,
			OverallConfidence:     confidenceFromStats(img),
			DataQuality:           dataQualityFromStats(img),
			ProcessingTimeMs:      img.ProcessingTimeMs,
			PixelsAnalyzed:        img.Statistics.ValidPixels,
			TrainingJobName:       img.ModelUsed,
			SpatialCoherence:      1,
			HistoricalConsistency: 1,
		}
		go c.tracker.TrackPerformance(context.Background(), entry)
	}
}

func confidenceFromStats(img ImageResult) float64 {
	if !img.Success {
		return 0
	}
	return math.Min(1, img.Statistics.VegetationCoverage+0.01)
}

func dataQualityFromStats(img ImageResult) float64 {
	if !img.Success || img.Statistics.ValidPixels == 0 {
		return 0
	}
	return 1
}
