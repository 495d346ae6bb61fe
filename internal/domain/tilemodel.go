package domain

import (
	"time"

	"github.com/forestshield/core/internal/errs"
)

// TileModel is a trained K-means model artifact for a (tile_id, region_tag)
// pair, versioned and immutable once written.
type TileModel struct {
	TileID            string    `json:"tile_id"`
	RegionTag         string    `json:"region_tag"`
	Version           string    `json:"version"`
	OptimalK          int       `json:"optimal_k"`
	ArtifactRef       string    `json:"model_ref"`
	SourceTrainingJob string    `json:"source_training_job"`
	CreatedAt         time.Time `json:"created_at"`
	FeatureDim        int       `json:"feature_dim"`
	Latest            bool      `json:"-"`
}

// Validate enforces the model's invariants.
func (m TileModel) Validate() error {
	if m.OptimalK < 2 || m.OptimalK > 10 {
		return errs.New(errs.KindValidation, "optimal_k must be in [2,10]")
	}
	if m.FeatureDim != 5 {
		return errs.New(errs.KindValidation, "feature_dim must be 5")
	}
	return nil
}

// ModelKey identifies the (tile_id, region_tag) pointer a TileModel
// versions live under.
func ModelKey(tileID, regionTag string) string {
	return tileID + "/" + regionTag
}

// KSelectionResult is the elbow-method outcome for a training job.
type KSelectionResult struct {
	OptimalK   int             `json:"optimal_k"`
	Confidence float64         `json:"confidence"`
	SSECurve   map[int]float64 `json:"sse_curve"`
}
