// Package mlm implements the Model Lifecycle Manager: resolving
// (tile_id, region_tag) to the latest model, running elbow-method
// K-selection, atomically flipping the "latest" pointer, and tracking
// per-tile performance history with anomaly detection.
package mlm

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
	"github.com/forestshield/core/internal/metrics"
	"github.com/forestshield/core/internal/objectstore"
	"github.com/forestshield/core/internal/worker"
)

// DefaultKCandidates is the spec's hard-coded candidate set.
var DefaultKCandidates = []int{2, 3, 4, 5, 6}

// Config tunes MLM's retry/backoff and K-selection behavior.
type Config struct {
	KCandidates         []int
	FallbackK           int
	MaxPointerFlipRetries int
	PointerFlipBaseDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		KCandidates:           DefaultKCandidates,
		FallbackK:             3,
		MaxPointerFlipRetries: 5,
		PointerFlipBaseDelay:  100 * time.Millisecond,
	}
}

// Pointers is the subset of the Shared State Store MLM needs: reading
// and conditionally flipping the per-(tile,region_tag) latest version.
type Pointers interface {
	GetLatestPointer(ctx context.Context, tileID, regionTag string) (string, bool, error)
	CASLatestPointer(ctx context.Context, tileID, regionTag, expectedPrev, newVersion string) error
}

// Manager implements the Model Lifecycle Manager.
type Manager struct {
	cfg     Config
	store   Pointers
	objects domain.ObjectStore
	workers domain.WorkerInvoker
	log     *zap.Logger

	tileMu sync.Map // tile_id -> *sync.Mutex, serializes track_performance per tile
}

func New(cfg Config, store Pointers, objects domain.ObjectStore, workers domain.WorkerInvoker, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.KCandidates) < 3 {
		cfg.KCandidates = DefaultKCandidates
	}
	return &Manager{cfg: cfg, store: store, objects: objects, workers: workers, log: log.Named("mlm")}
}

// GetLatestModel resolves (tile_id, region_tag) to its current model, or
// nil if none exists yet — a normal "no prior model" outcome.
func (m *Manager) GetLatestModel(ctx context.Context, tileID, regionTag string) (*domain.TileModel, error) {
	version, ok, err := m.store.GetLatestPointer(ctx, tileID, regionTag)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "read latest pointer")
	}
	if !ok {
		return nil, nil
	}
	raw, err := m.objects.Get(ctx, objectstore.ModelMetadataKey(tileID, regionTag, version))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "read model metadata")
	}
	var tm domain.TileModel
	if err := json.Unmarshal(raw, &tm); err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "decode model metadata")
	}
	tm.Latest = true
	return &tm, nil
}

// KSelectionOutcome carries the elbow result plus any non-fatal warnings
// raised along the way (KSelectionPartial, KSelectionFallback).
type KSelectionOutcome struct {
	domain.KSelectionResult
	Warnings []string
}

// SelectOptimalK runs the elbow method: launch one cluster_trainer job
// per candidate k in parallel, collect each job's SSE, then pick the k
// maximizing perpendicular distance from the chord endpoints.
func (m *Manager) SelectOptimalK(ctx context.Context, trainingDataRef string) (KSelectionOutcome, error) {
	ks := append([]int(nil), m.cfg.KCandidates...)
	sort.Ints(ks)

	sseByK := make(map[int]float64)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, k := range ks {
		k := k
		g.Go(func() error {
			var resp worker.ClusterTrainerResponse
			err := worker.InvokeTyped(gctx, m.workers, worker.ClusterTrainer,
				worker.ClusterTrainerRequest{TrainingDataRef: trainingDataRef, K: k, FeatureDim: domain.PixelFeatureDim}, &resp)
			if err != nil {
				m.log.Warn("k-selection job failed", zap.Int("k", k), zap.Error(err))
				return nil // per-job failure is tolerated; errgroup must not abort siblings
			}
			mu.Lock()
			sseByK[k] = resp.SSE
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return KSelectionOutcome{}, errs.Wrap(errs.KindTransient, err, "k-selection fan-out")
	}

	var warnings []string
	if len(sseByK) < len(ks) {
		warnings = append(warnings, "KSelectionPartial")
	}
	if len(sseByK) < 3 {
		warnings = append(warnings, "KSelectionFallback")
		metrics.KSelectionConfidence.Observe(0)
		return KSelectionOutcome{
			KSelectionResult: domain.KSelectionResult{OptimalK: m.cfg.FallbackK, Confidence: 0, SSECurve: sseByK},
			Warnings:         warnings,
		}, nil
	}

	var survivingKs []int
	for k := range sseByK {
		survivingKs = append(survivingKs, k)
	}
	sort.Ints(survivingKs)
	sse := make([]float64, len(survivingKs))
	for i, k := range survivingKs {
		sse[i] = sseByK[k]
	}
	optimalK, confidence := ElbowPick(survivingKs, sse)
	metrics.KSelectionConfidence.Observe(confidence)

	return KSelectionOutcome{
		KSelectionResult: domain.KSelectionResult{OptimalK: optimalK, Confidence: confidence, SSECurve: sseByK},
		Warnings:         warnings,
	}, nil
}

// SaveNewModel writes the artifact and metadata to the Object Store and
// atomically flips the (tile_id, region_tag) latest pointer, retrying
// the CAS with exponential backoff on contention.
func (m *Manager) SaveNewModel(ctx context.Context, tileID, regionTag string, artifact []byte, sourceTrainingJob string, optimalK int) (domain.TileModel, error) {
	version := time.Now().UTC().Format("20060102T150405.000000000Z")
	tm := domain.TileModel{
		TileID: tileID, RegionTag: regionTag, Version: version,
		OptimalK: optimalK, SourceTrainingJob: sourceTrainingJob,
		CreatedAt: time.Now().UTC(), FeatureDim: domain.PixelFeatureDim,
		ArtifactRef: objectstore.ModelArtifactKey(tileID, regionTag, version),
	}
	if err := tm.Validate(); err != nil {
		return domain.TileModel{}, err
	}

	if err := m.objects.Put(ctx, tm.ArtifactRef, artifact, nil); err != nil {
		return domain.TileModel{}, errs.Wrap(errs.KindTransient, err, "write model artifact")
	}
	metaBytes, err := json.Marshal(tm)
	if err != nil {
		return domain.TileModel{}, err
	}
	if err := m.objects.Put(ctx, objectstore.ModelMetadataKey(tileID, regionTag, version), metaBytes, nil); err != nil {
		return domain.TileModel{}, errs.Wrap(errs.KindTransient, err, "write model metadata")
	}

	prev, _, err := m.store.GetLatestPointer(ctx, tileID, regionTag)
	if err != nil {
		return domain.TileModel{}, errs.Wrap(errs.KindTransient, err, "read latest pointer")
	}

	delay := m.cfg.PointerFlipBaseDelay
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxPointerFlipRetries; attempt++ {
		err := m.store.CASLatestPointer(ctx, tileID, regionTag, prev, version)
		if err == nil {
			tm.Latest = true
			metrics.ModelsTrained.WithLabelValues(tileID).Inc()
			return tm, nil
		}
		if !errs.Is(err, errs.KindConflict) {
			return domain.TileModel{}, errs.Wrap(errs.KindTransient, err, "flip latest pointer")
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return domain.TileModel{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	_ = lastErr
	return domain.TileModel{}, domain.ErrConcurrentModelUpdate
}

// TrackPerformance appends a PerformanceEntry to the tile's history blob
// via read-modify-write, detecting anomalies against a trailing-20
// window. Object Store I/O failures here are non-fatal: logged and
// swallowed so AO never depends on this side channel.
func (m *Manager) TrackPerformance(ctx context.Context, entry domain.PerformanceEntry) {
	lockIface, _ := m.tileMu.LoadOrStore(entry.TileID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	key := objectstore.PerformanceHistoryKey(entry.TileID)
	var history domain.PerformanceHistory
	raw, err := m.objects.Get(ctx, key)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &history); jerr != nil {
			m.log.Warn("corrupt performance history, resetting", zap.String("tile_id", entry.TileID), zap.Error(jerr))
			history = domain.PerformanceHistory{TileID: entry.TileID}
		}
	case errs.Is(err, errs.KindNotFound):
		history = domain.PerformanceHistory{TileID: entry.TileID}
	default:
		m.log.Warn("track_performance: read failed, skipping", zap.String("tile_id", entry.TileID), zap.Error(err))
		return
	}

	entry.Anomaly = detectAnomaly(history.Entries, entry)
	if entry.Anomaly != domain.AnomalyNone {
		metrics.PerformanceAnomalies.WithLabelValues(string(entry.Anomaly)).Inc()
	}
	history.Entries = append(history.Entries, entry)
	if len(history.Entries) > domain.MaxHistoryEntries {
		history.Entries = history.Entries[len(history.Entries)-domain.MaxHistoryEntries:]
	}

	out, err := json.Marshal(history)
	if err != nil {
		m.log.Warn("track_performance: marshal failed, skipping", zap.Error(err))
		return
	}
	if err := m.objects.Put(ctx, key, out, nil); err != nil {
		m.log.Warn("track_performance: write failed, skipping", zap.String("tile_id", entry.TileID), zap.Error(err))
	}
}

func detectAnomaly(history []domain.PerformanceEntry, entry domain.PerformanceEntry) domain.AnomalySeverity {
	trailing := history
	if len(trailing) > 20 {
		trailing = trailing[len(trailing)-20:]
	}
	if entry.OverallConfidence < 0.3 {
		return domain.AnomalyHigh
	}
	if len(trailing) >= 2 {
		mean, std := meanStd(trailing, func(e domain.PerformanceEntry) float64 { return e.ProcessingTimeMs })
		if std > 0 && entry.ProcessingTimeMs > mean+3*std {
			return domain.AnomalyHigh
		}
	}
	if len(trailing) >= 1 {
		if dropsBy(trailing, entry.DataQuality, func(e domain.PerformanceEntry) float64 { return e.DataQuality }, 0.25) ||
			dropsBy(trailing, entry.SpatialCoherence, func(e domain.PerformanceEntry) float64 { return e.SpatialCoherence }, 0.25) ||
			dropsBy(trailing, entry.HistoricalConsistency, func(e domain.PerformanceEntry) float64 { return e.HistoricalConsistency }, 0.25) {
			return domain.AnomalyMedium
		}
	}
	return domain.AnomalyNone
}

func meanStd(entries []domain.PerformanceEntry, f func(domain.PerformanceEntry) float64) (mean, std float64) {
	var sum float64
	for _, e := range entries {
		sum += f(e)
	}
	mean = sum / float64(len(entries))
	var variance float64
	for _, e := range entries {
		d := f(e) - mean
		variance += d * d
	}
	variance /= float64(len(entries))
	return mean, math.Sqrt(variance)
}

func dropsBy(entries []domain.PerformanceEntry, current float64, f func(domain.PerformanceEntry) float64, threshold float64) bool {
	mean, _ := meanStd(entries, f)
	return mean-current > threshold
}
