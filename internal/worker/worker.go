// Package worker declares the seven task-worker contracts the Analysis
// Orchestrator invokes through an abstract name/payload call, and a
// registry-backed Invoker implementing domain.WorkerInvoker.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
)

const (
	SearchImages           = "search_images"
	VegetationAnalyzer     = "vegetation_analyzer"
	KSelector              = "k_selector"
	ClusterTrainer         = "cluster_trainer"
	VisualizationGenerator = "visualization_generator"
	ResultsConsolidator    = "results_consolidator"
	Notifier               = "notifier"
)

// ─── search_images ──────────────────────────────────────────────────────

type SearchImagesRequest struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	CloudCover  float64 `json:"cloud_cover"`
}

type ImageAssets struct {
	RedURL string `json:"red_url"`
	NIRURL string `json:"nir_url"`
}

type ImageRef struct {
	ID         string      `json:"id"`
	Date       string      `json:"date"`
	Assets     ImageAssets `json:"assets"`
	CloudCover float64     `json:"cloud_cover"`
	BBox       [4]float64  `json:"bbox"`
}

type SearchImagesResponse struct {
	Count  int        `json:"count"`
	Images []ImageRef `json:"images"`
}

// ─── vegetation_analyzer ────────────────────────────────────────────────

type VegetationAnalyzerRequest struct {
	ImageID      string `json:"image_id"`
	RedURL       string `json:"red_url"`
	NIRURL       string `json:"nir_url"`
	OutputBucket string `json:"output_bucket"`
	Region       string `json:"region"`
}

type VegetationStatistics struct {
	MeanNDVI           float64 `json:"mean_ndvi"`
	MinNDVI            float64 `json:"min_ndvi"`
	MaxNDVI            float64 `json:"max_ndvi"`
	StdNDVI            float64 `json:"std_ndvi"`
	VegetationCoverage float64 `json:"vegetation_coverage"`
	ValidPixels        int64   `json:"valid_pixels"`
}

type VegetationAnalyzerResponse struct {
	Success         bool                 `json:"success"`
	Statistics      VegetationStatistics `json:"statistics"`
	TrainingDataRef string               `json:"training_data_ref"`
}

// ─── k_selector ──────────────────────────────────────────────────────────

type KSelectorRequest struct {
	TrainingDataRef string `json:"training_data_ref"`
	KCandidates     []int  `json:"k_candidates"`
}

type KSelectorResponse struct {
	OptimalK   int             `json:"optimal_k"`
	Confidence float64         `json:"confidence"`
	SSEByK     map[string]float64 `json:"sse_by_k"`
}

// ─── cluster_trainer ────────────────────────────────────────────────────

type ClusterTrainerRequest struct {
	TrainingDataRef string `json:"training_data_ref"`
	K               int    `json:"k"`
	FeatureDim      int    `json:"feature_dim"`
}

type ClusterTrainerResponse struct {
	ModelArtifactRef string      `json:"model_artifact_ref"`
	SSE              float64     `json:"sse"`
	ClusterCentroids [][]float64 `json:"cluster_centroids"`
	ClusterSizes     []int       `json:"cluster_sizes"`
}

// ─── visualization_generator ────────────────────────────────────────────

type VisualizationGeneratorRequest struct {
	ModelArtifactRef string `json:"model_artifact_ref"`
	TrainingDataRef  string `json:"training_data_ref"`
	TileID           string `json:"tile_id"`
	RegionID         string `json:"region_id"`
	Timestamp        string `json:"timestamp"`
}

type VisualizationGeneratorResponse struct {
	ChartRefs []string `json:"chart_refs"`
}

// ─── results_consolidator ───────────────────────────────────────────────

type ResultsConsolidatorRequest struct {
	PerImageResults []PerImageResult `json:"per_image_results"`
	RegionID        string           `json:"region_id"`
}

type PerImageResult struct {
	ImageID          string  `json:"image_id"`
	Success          bool    `json:"success"`
	Statistics       VegetationStatistics `json:"statistics"`
	ModelUsed        string  `json:"model_used"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	Timestamp        string  `json:"timestamp"`
}

type ResultsConsolidatorResponse struct {
	RiskLevel    string `json:"risk_level"`
	EmailPayload string `json:"email_payload"`
	ReportRef    string `json:"report_ref"`
}

// ─── notifier ────────────────────────────────────────────────────────────

type NotifierRequest struct {
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type NotifierResponse struct {
	Delivered bool `json:"delivered"`
}

// ─── Invocation ──────────────────────────────────────────────────────────

// Invoker dispatches worker invocations to registered domain.Worker
// implementations by name.
type Invoker struct {
	workers map[string]domain.Worker
}

func NewInvoker() *Invoker {
	return &Invoker{workers: make(map[string]domain.Worker)}
}

func (inv *Invoker) Register(name string, w domain.Worker) {
	inv.workers[name] = w
}

func (inv *Invoker) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	w, ok := inv.workers[name]
	if !ok {
		return nil, errs.Newf(errs.KindFatal, "no worker registered for %q", name)
	}
	return w.Invoke(ctx, payload)
}

var _ domain.WorkerInvoker = (*Invoker)(nil)

// InvokeTyped marshals req, invokes name, and unmarshals the result into
// resp — the convenience wrapper MLM and the Results Consolidator use
// around their worker calls. AO goes through its own breaker-and-retry
// invoke instead.
func InvokeTyped(ctx context.Context, inv domain.WorkerInvoker, name string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.KindFatal, err, fmt.Sprintf("marshal %s request", name))
	}
	out, err := inv.Invoke(ctx, name, payload)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(out, resp); err != nil {
		return errs.Wrap(errs.KindFatal, err, fmt.Sprintf("unmarshal %s response", name))
	}
	return nil
}
