package mlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
	"github.com/forestshield/core/internal/objectstore"
	"github.com/forestshield/core/internal/worker"
)

// memPointers is an in-memory stand-in for the Shared State Store's
// model-pointer table, mirroring sss.Store's CAS semantics without
// pulling in sqlite for a unit test.
type memPointers struct {
	version string
	exists  bool
}

func (p *memPointers) GetLatestPointer(_ context.Context, _, _ string) (string, bool, error) {
	return p.version, p.exists, nil
}

func (p *memPointers) CASLatestPointer(_ context.Context, _, _, expectedPrev, newVersion string) error {
	current := ""
	if p.exists {
		current = p.version
	}
	if current != expectedPrev {
		return errs.ErrConditionFailed
	}
	p.version = newVersion
	p.exists = true
	return nil
}

// barrierPointers rendezvouses exactly two GetLatestPointer callers
// before either sees the stored value, guaranteeing two concurrent
// SaveNewModel calls observe the same baseline — the scenario Property
// 4/S5 requires exactly one winner for.
type barrierPointers struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	version string
	exists  bool
}

func newBarrierPointers() *barrierPointers {
	b := &barrierPointers{}
	b.wg.Add(2)
	return b
}

func (p *barrierPointers) GetLatestPointer(_ context.Context, _, _ string) (string, bool, error) {
	p.wg.Done()
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version, p.exists, nil
}

func (p *barrierPointers) CASLatestPointer(_ context.Context, _, _, expectedPrev, newVersion string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := ""
	if p.exists {
		current = p.version
	}
	if current != expectedPrev {
		return errs.ErrConditionFailed
	}
	p.version = newVersion
	p.exists = true
	return nil
}

func sseWorker(t *testing.T, sseByK map[int]float64, fail map[int]bool) worker.FuncWorker {
	return func(_ context.Context, payload []byte) ([]byte, error) {
		var req worker.ClusterTrainerRequest
		require.NoError(t, json.Unmarshal(payload, &req))
		if fail[req.K] {
			return nil, errs.New(errs.KindTransient, "trainer unavailable")
		}
		resp := worker.ClusterTrainerResponse{SSE: sseByK[req.K], ModelArtifactRef: "artifact"}
		return json.Marshal(resp)
	}
}

func TestSelectOptimalKPicksElbow(t *testing.T) {
	sseByK := map[int]float64{2: 1000, 3: 600, 4: 580, 5: 570, 6: 565}
	inv := worker.NewInvoker()
	inv.Register(worker.ClusterTrainer, sseWorker(t, sseByK, nil))

	m := New(DefaultConfig(), &memPointers{}, objectstore.NewMock(), inv, zap.NewNop())
	outcome, err := m.SelectOptimalK(context.Background(), "training-data-ref")

	require.NoError(t, err)
	require.Equal(t, 3, outcome.OptimalK)
	require.Empty(t, outcome.Warnings)
}

func TestSelectOptimalKFallsBackWhenTooFewJobsSucceed(t *testing.T) {
	sseByK := map[int]float64{2: 1000, 3: 600, 4: 580, 5: 570, 6: 565}
	inv := worker.NewInvoker()
	inv.Register(worker.ClusterTrainer, sseWorker(t, sseByK, map[int]bool{3: true, 4: true, 5: true, 6: true}))

	m := New(DefaultConfig(), &memPointers{}, objectstore.NewMock(), inv, zap.NewNop())
	outcome, err := m.SelectOptimalK(context.Background(), "training-data-ref")

	require.NoError(t, err)
	require.Equal(t, m.cfg.FallbackK, outcome.OptimalK)
	require.Equal(t, 0.0, outcome.Confidence)
	require.Contains(t, outcome.Warnings, "KSelectionFallback")
}

func TestSelectOptimalKPartialWarnsButStillPicks(t *testing.T) {
	sseByK := map[int]float64{2: 1000, 3: 600, 4: 580, 5: 570, 6: 565}
	inv := worker.NewInvoker()
	inv.Register(worker.ClusterTrainer, sseWorker(t, sseByK, map[int]bool{6: true}))

	m := New(DefaultConfig(), &memPointers{}, objectstore.NewMock(), inv, zap.NewNop())
	outcome, err := m.SelectOptimalK(context.Background(), "training-data-ref")

	require.NoError(t, err)
	require.Contains(t, outcome.Warnings, "KSelectionPartial")
	require.Equal(t, 3, outcome.OptimalK)
}

func TestSaveNewModelThenGetLatest(t *testing.T) {
	objs := objectstore.NewMock()
	m := New(DefaultConfig(), &memPointers{}, objs, worker.NewInvoker(), zap.NewNop())
	ctx := context.Background()

	tm, err := m.SaveNewModel(ctx, "tile-42", "region-a", []byte("model-bytes"), "job-1", 4)
	require.NoError(t, err)
	require.True(t, tm.Latest)
	require.Equal(t, 4, tm.OptimalK)

	latest, err := m.GetLatestModel(ctx, "tile-42", "region-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, tm.Version, latest.Version)
}

func TestGetLatestModelReturnsNilWhenAbsent(t *testing.T) {
	m := New(DefaultConfig(), &memPointers{}, objectstore.NewMock(), worker.NewInvoker(), zap.NewNop())
	latest, err := m.GetLatestModel(context.Background(), "tile-no-model", "region-a")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestSaveNewModelRejectsInvalidK(t *testing.T) {
	m := New(DefaultConfig(), &memPointers{}, objectstore.NewMock(), worker.NewInvoker(), zap.NewNop())
	_, err := m.SaveNewModel(context.Background(), "tile-42", "region-a", []byte("bytes"), "job-1", 1)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestTrackPerformanceFlagsLowConfidenceAsHighSeverity(t *testing.T) {
	objs := objectstore.NewMock()
	m := New(DefaultConfig(), &memPointers{}, objs, worker.NewInvoker(), zap.NewNop())
	ctx := context.Background()

	m.TrackPerformance(ctx, domain.PerformanceEntry{
		TileID: "tile-7", Timestamp: time.Now(), OverallConfidence: 0.1,
		DataQuality: 0.9, SpatialCoherence: 0.9, HistoricalConsistency: 0.9,
	})

	raw, err := objs.Get(ctx, objectstore.PerformanceHistoryKey("tile-7"))
	require.NoError(t, err)
	var history domain.PerformanceHistory
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history.Entries, 1)
	require.Equal(t, domain.AnomalyHigh, history.Entries[0].Anomaly)
}

func TestTrackPerformanceTruncatesHistory(t *testing.T) {
	objs := objectstore.NewMock()
	m := New(DefaultConfig(), &memPointers{}, objs, worker.NewInvoker(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < domain.MaxHistoryEntries+10; i++ {
		m.TrackPerformance(ctx, domain.PerformanceEntry{
			TileID: "tile-trunc", Timestamp: time.Now(),
			OverallConfidence: 0.95, DataQuality: 0.9, SpatialCoherence: 0.9, HistoricalConsistency: 0.9,
		})
	}

	raw, err := objs.Get(ctx, objectstore.PerformanceHistoryKey("tile-trunc"))
	require.NoError(t, err)
	var history domain.PerformanceHistory
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history.Entries, domain.MaxHistoryEntries)
}

// TestSaveNewModelConcurrentOnlyOneWinner exercises Property 4/S5: two
// SaveNewModel calls racing from the same baseline must produce exactly
// one success and one Conflict-driven failure after retries exhaust —
// never two successes where the loser silently overwrites the winner.
func TestSaveNewModelConcurrentOnlyOneWinner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PointerFlipBaseDelay = time.Millisecond
	cfg.MaxPointerFlipRetries = 5

	pointers := newBarrierPointers()
	m := New(cfg, pointers, objectstore.NewMock(), worker.NewInvoker(), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, err := m.SaveNewModel(context.Background(), "tile-race", "region-a",
				[]byte("bytes"), fmt.Sprintf("job-%d", i), 3)
			results[i] = err
		}()
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrConcurrentModelUpdate):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent save should win")
	require.Equal(t, 1, conflicts, "the loser should report Conflict after exhausting retries, not overwrite the winner")
}
