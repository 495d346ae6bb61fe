package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forestshield/core/internal/consolidator"
	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/metrics"
	"github.com/forestshield/core/internal/worker"
)

// perImageOutcome is one child's result out of MapPerImage's fan-out —
// the unit Results Consolidator aggregates over.
type perImageOutcome struct {
	Image            worker.ImageRef
	Success          bool
	FailureReason    string
	Statistics       worker.VegetationStatistics
	ModelUsed        string
	ProcessingTimeMs float64
	Clusters         *consolidator.ClusterSnapshot
}

func (o *Orchestrator) toConsolidatorResult(outcome perImageOutcome) consolidator.ImageResult {
	return consolidator.ImageResult{
		ImageID:          outcome.Image.ID,
		Success:          outcome.Success,
		Timestamp:        parseImageDate(outcome.Image.Date),
		Statistics:       outcome.Statistics,
		Clusters:         outcome.Clusters,
		ModelUsed:        outcome.ModelUsed,
		ProcessingTimeMs: outcome.ProcessingTimeMs,
	}
}

func parseImageDate(date string) time.Time {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// runPerImage drives one instance of the PerImage.* sub-state-machine:
// NDVI → (existing model | select-K → cluster-train → save) →
// visualizations. A child's failure is contained here; it never
// propagates to the parent run.
func (o *Orchestrator) runPerImage(ctx context.Context, region domain.Region, image worker.ImageRef) (outcome perImageOutcome) {
	start := time.Now()
	defer func() {
		label := outcome.FailureReason
		if outcome.Success {
			label = "succeeded"
		}
		metrics.PerImageOutcomes.WithLabelValues(label).Inc()
	}()
	failed := func(reason string) perImageOutcome {
		o.log.Warn("per-image branch failed", zap.String("image_id", image.ID), zap.String("reason", reason))
		return perImageOutcome{Image: image, Success: false, FailureReason: reason, ProcessingTimeMs: float64(time.Since(start).Milliseconds())}
	}

	// PerImage.NDVI
	var ndviResp worker.VegetationAnalyzerResponse
	err := o.invoke(ctx, worker.VegetationAnalyzer, worker.VegetationAnalyzerRequest{
		ImageID: image.ID, RedURL: image.Assets.RedURL, NIRURL: image.Assets.NIRURL,
		OutputBucket: "forestshield-geospatial", Region: region.RegionID,
	}, &ndviResp)
	if err != nil || !ndviResp.Success {
		return failed("ndvi_failed")
	}

	// PerImage.CheckExistingModel
	existing, err := o.models.GetLatestModel(ctx, region.TileID, region.RegionTag)
	if err != nil {
		return failed("model_lookup_failed")
	}

	var modelArtifactRef, modelUsed string
	var clusters *consolidator.ClusterSnapshot

	if existing != nil {
		// PerImage.UseExistingModel
		modelArtifactRef = existing.ArtifactRef
		modelUsed = existing.Version
		metrics.ModelsReused.WithLabelValues(region.TileID).Inc()
	} else {
		// PerImage.SelectOptimalK
		kOutcome, err := o.models.SelectOptimalK(ctx, ndviResp.TrainingDataRef)
		if err != nil {
			return failed("k_selection_failed")
		}

		// PerImage.ClusterAndTrain
		var trainResp worker.ClusterTrainerResponse
		err = o.invoke(ctx, worker.ClusterTrainer, worker.ClusterTrainerRequest{
			TrainingDataRef: ndviResp.TrainingDataRef, K: kOutcome.OptimalK, FeatureDim: domain.PixelFeatureDim,
		}, &trainResp)
		if err != nil {
			return failed("cluster_train_failed")
		}

		// PerImage.SaveNewModel
		artifact, err := o.objects.Get(ctx, trainResp.ModelArtifactRef)
		if err != nil {
			return failed("artifact_fetch_failed")
		}
		saved, err := o.models.SaveNewModel(ctx, region.TileID, region.RegionTag, artifact,
			fmt.Sprintf("run-%s-%s", region.RegionID, image.ID), kOutcome.OptimalK)
		if err != nil {
			return failed("save_model_failed")
		}
		modelArtifactRef = saved.ArtifactRef
		modelUsed = saved.Version
		clusters = clusterSnapshotFromTraining(trainResp)
	}

	// PerImage.GenerateVisualizations
	var vizResp worker.VisualizationGeneratorResponse
	_ = o.invoke(ctx, worker.VisualizationGenerator, worker.VisualizationGeneratorRequest{
		ModelArtifactRef: modelArtifactRef, TrainingDataRef: ndviResp.TrainingDataRef,
		TileID: region.TileID, RegionID: region.RegionID, Timestamp: image.Date,
	}, &vizResp)
	// Visualization failures don't fail the branch — charts are a
	// reporting nicety, not a correctness input downstream.

	return perImageOutcome{
		Image: image, Success: true, Statistics: ndviResp.Statistics,
		ModelUsed: modelUsed, Clusters: clusters,
		ProcessingTimeMs: float64(time.Since(start).Milliseconds()),
	}
}

// clusterSnapshotFromTraining derives RC's cluster-shift inputs from a
// fresh training job's centroids: each centroid's first component is
// NDVI (PixelVector's [ndvi, red, nir, lat, lon] layout), and the
// degradation cluster is whichever has the lowest NDVI.
func clusterSnapshotFromTraining(resp worker.ClusterTrainerResponse) *consolidator.ClusterSnapshot {
	if len(resp.ClusterCentroids) == 0 {
		return nil
	}
	centroidNDVI := make([]float64, len(resp.ClusterCentroids))
	for i, c := range resp.ClusterCentroids {
		if len(c) > 0 {
			centroidNDVI[i] = c[0]
		}
	}
	var total int
	for _, n := range resp.ClusterSizes {
		total += n
	}
	shares := make([]float64, len(resp.ClusterSizes))
	for i, n := range resp.ClusterSizes {
		if total > 0 {
			shares[i] = float64(n) / float64(total)
		}
	}
	degraded := 0
	for i, v := range centroidNDVI {
		if v < centroidNDVI[degraded] {
			degraded = i
		}
	}
	return &consolidator.ClusterSnapshot{CentroidNDVI: centroidNDVI, PixelShare: shares, DegradationCluster: degraded}
}
