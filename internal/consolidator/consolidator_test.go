package consolidator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/worker"
)

type memAlertStore struct {
	mu     sync.Mutex
	alerts map[string]domain.Alert
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: map[string]domain.Alert{}}
}

func (s *memAlertStore) PutAlertIfAbsent(_ context.Context, a domain.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.DedupeKey]; exists {
		return false, nil
	}
	s.alerts[a.DedupeKey] = a
	return true, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	entries []domain.PerformanceEntry
}

func (f *fakeTracker) TrackPerformance(_ context.Context, entry domain.PerformanceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func notifierInvoker(t *testing.T, delivered *int32) *worker.Invoker {
	inv := worker.NewInvoker()
	inv.Register(worker.Notifier, worker.FuncWorker(func(_ context.Context, payload []byte) ([]byte, error) {
		var req worker.NotifierRequest
		require.NoError(t, json.Unmarshal(payload, &req))
		*delivered++
		return json.Marshal(worker.NotifierResponse{Delivered: true})
	}))
	return inv
}

func TestConsolidateLowRiskSkipsAlert(t *testing.T) {
	store := newMemAlertStore()
	tracker := &fakeTracker{}
	var delivered int32
	inv := notifierInvoker(t, &delivered)
	c := New(DefaultConfig(), store, tracker, inv, zap.NewNop())

	images := []ImageResult{
		{ImageID: "a", Success: true, Timestamp: time.Now(), Statistics: worker.VegetationStatistics{VegetationCoverage: 0.80, MeanNDVI: 0.6, ValidPixels: 100}},
	}

	result, err := c.Consolidate(context.Background(), "region-1", "Region One", images)
	require.NoError(t, err)
	require.Equal(t, domain.AlertInfo, result.RiskLevel)
	require.False(t, result.AlertCreated)
	require.Empty(t, store.alerts)
}

func TestConsolidateDetectsCriticalDeforestation(t *testing.T) {
	store := newMemAlertStore()
	tracker := &fakeTracker{}
	var delivered int32
	inv := notifierInvoker(t, &delivered)
	c := New(DefaultConfig(), store, tracker, inv, zap.NewNop())

	start := time.Now().Add(-30 * 24 * time.Hour)
	images := []ImageResult{
		{
			ImageID: "a", TileID: "tile-1", Success: true, Timestamp: start,
			Statistics: worker.VegetationStatistics{VegetationCoverage: 0.90, MeanNDVI: 0.7, ValidPixels: 1000},
			Clusters:  &ClusterSnapshot{CentroidNDVI: []float64{0.8, 0.2}, PixelShare: []float64{0.9, 0.1}, DegradationCluster: 1},
		},
		{
			ImageID: "b", TileID: "tile-1", Success: true, Timestamp: start.Add(20 * 24 * time.Hour),
			Statistics: worker.VegetationStatistics{VegetationCoverage: 0.70, MeanNDVI: 0.5, ValidPixels: 1000},
			Clusters:  &ClusterSnapshot{CentroidNDVI: []float64{0.6, 0.2}, PixelShare: []float64{0.7, 0.3}, DegradationCluster: 1},
		},
	}

	result, err := c.Consolidate(context.Background(), "region-2", "Region Two", images)
	require.NoError(t, err)
	require.Equal(t, domain.AlertCritical, result.RiskLevel)
	require.True(t, result.AlertCreated)
	require.InDelta(t, 20.0, result.DeforestationPercentage, 0.01)
	require.Greater(t, result.Confidence, 0.0)
	require.LessOrEqual(t, result.Confidence, 1.0)

	require.Eventually(t, func() bool { return tracker.count() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), delivered)
}

func TestConsolidateIsIdempotentOnRepeatedRuns(t *testing.T) {
	store := newMemAlertStore()
	tracker := &fakeTracker{}
	var delivered int32
	inv := notifierInvoker(t, &delivered)
	c := New(DefaultConfig(), store, tracker, inv, zap.NewNop())

	now := time.Now()
	images := []ImageResult{
		{ImageID: "a", Success: true, Timestamp: now.Add(-time.Hour), Statistics: worker.VegetationStatistics{VegetationCoverage: 0.95, ValidPixels: 500}},
		{ImageID: "b", Success: true, Timestamp: now, Statistics: worker.VegetationStatistics{VegetationCoverage: 0.70, ValidPixels: 500}},
	}

	first, err := c.Consolidate(context.Background(), "region-3", "Region Three", images)
	require.NoError(t, err)
	require.True(t, first.AlertCreated)

	second, err := c.Consolidate(context.Background(), "region-3", "Region Three", images)
	require.NoError(t, err)
	require.Equal(t, first.Alert.DedupeKey, second.Alert.DedupeKey)
	require.Len(t, store.alerts, 1)
}

func TestConsolidateNoImagesIsInfoLevel(t *testing.T) {
	store := newMemAlertStore()
	tracker := &fakeTracker{}
	var delivered int32
	inv := notifierInvoker(t, &delivered)
	c := New(DefaultConfig(), store, tracker, inv, zap.NewNop())

	result, err := c.Consolidate(context.Background(), "region-4", "Region Four", nil)
	require.NoError(t, err)
	require.Equal(t, domain.AlertInfo, result.RiskLevel)
	require.False(t, result.AlertCreated)
}
