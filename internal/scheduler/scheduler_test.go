package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forestshield/core/internal/coordinator"
	"github.com/forestshield/core/internal/domain"
)

// newTestCoordinator wires a coordinator.Coordinator against an
// in-process miniredis server, mirroring coordinator_test.go's helper
// (unexported there, so reconstructed here for cross-package use).
func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	mr := miniredis.RunT(t)
	return coordinator.New(context.Background(), mr.Addr(), zap.NewNop())
}

// fakeRuns always reports no in-progress run, unless told otherwise.
type fakeRuns struct {
	mu         sync.Mutex
	inProgress map[string]bool
}

func (f *fakeRuns) HasInProgressRun(ctx context.Context, regionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inProgress[regionID], nil
}

type fakeRegions struct {
	mu      sync.Mutex
	regions map[string]domain.Region
}

func (f *fakeRegions) GetRegion(ctx context.Context, regionID string) (domain.Region, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regions[regionID]
	if !ok {
		return domain.Region{}, domain.ErrRegionNotFound
	}
	return r, nil
}

// countingTrigger records how many times Trigger fired, per region.
type countingTrigger struct {
	mu    sync.Mutex
	fired map[string]int
	done  chan struct{}
}

func newCountingTrigger() *countingTrigger {
	return &countingTrigger{fired: make(map[string]int), done: make(chan struct{}, 64)}
}

func (c *countingTrigger) Trigger(ctx context.Context, region domain.Region) (domain.AnalysisRun, error) {
	c.mu.Lock()
	c.fired[region.RegionID]++
	c.mu.Unlock()
	c.done <- struct{}{}
	return domain.AnalysisRun{RegionID: region.RegionID, Status: domain.RunSucceeded}, nil
}

func (c *countingTrigger) count(regionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired[regionID]
}

func newTestScheduler(t *testing.T, trig Trigger, runs RunChecker, regions RegionResolver) (*Scheduler, func()) {
	t.Helper()
	coord := newTestCoordinator(t)
	cfg := DefaultConfig()
	cfg.ClaimTTL = 200 * time.Millisecond
	s := New(cfg, coord, runs, regions, trig, zap.NewNop())
	return s, func() { _ = s.Close() }
}

func TestStartThenStopRemovesActiveJob(t *testing.T) {
	trig := newCountingTrigger()
	regions := &fakeRegions{regions: map[string]domain.Region{"r1": {RegionID: "r1"}}}
	runs := &fakeRuns{inProgress: map[string]bool{}}
	s, closeFn := newTestScheduler(t, trig, runs, regions)
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "r1", "*/5 * * * *", false))
	require.Len(t, s.ActiveJobs(), 1)

	require.NoError(t, s.Stop(ctx, "r1"))
	require.Empty(t, s.ActiveJobs(), "stop must remove the region from active_jobs")
}

func TestTriggerImmediateFiresOnce(t *testing.T) {
	trig := newCountingTrigger()
	regions := &fakeRegions{regions: map[string]domain.Region{"r1": {RegionID: "r1"}}}
	runs := &fakeRuns{inProgress: map[string]bool{}}
	s, closeFn := newTestScheduler(t, trig, runs, regions)
	defer closeFn()

	require.NoError(t, s.Start(context.Background(), "r1", "0 0 1 1 *", true))
	select {
	case <-trig.done:
	case <-time.After(time.Second):
		t.Fatal("immediate trigger never fired")
	}
	require.Equal(t, 1, trig.count("r1"))
}

func TestInProgressRunSkipsFiring(t *testing.T) {
	trig := newCountingTrigger()
	regions := &fakeRegions{regions: map[string]domain.Region{"r1": {RegionID: "r1"}}}
	runs := &fakeRuns{inProgress: map[string]bool{"r1": true}}
	s, closeFn := newTestScheduler(t, trig, runs, regions)
	defer closeFn()

	require.NoError(t, s.Start(context.Background(), "r1", "0 0 1 1 *", true))
	select {
	case <-trig.done:
		t.Fatal("firing must be skipped while a run is in progress")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, 0, trig.count("r1"))
}

func TestSecondClaimDoesNotFire(t *testing.T) {
	trig := newCountingTrigger()
	regions := &fakeRegions{regions: map[string]domain.Region{"r1": {RegionID: "r1"}}}
	runs := &fakeRuns{inProgress: map[string]bool{}}

	coord := newTestCoordinator(t)
	cfg := DefaultConfig()
	cfg.ClaimTTL = 200 * time.Millisecond
	a := New(cfg, coord, runs, regions, trig, zap.NewNop())
	defer a.Close()
	b := New(cfg, coord, runs, regions, trig, zap.NewNop())
	defer b.Close()

	require.NoError(t, a.Start(context.Background(), "r1", "0 0 1 1 *", true))
	require.NoError(t, b.Start(context.Background(), "r1", "0 0 1 1 *", true))

	select {
	case <-trig.done:
	case <-time.After(time.Second):
		t.Fatal("the owning replica never fired")
	}
	select {
	case <-trig.done:
		t.Fatal("only one replica should have fired")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, 1, trig.count("r1"))
}

func TestPauseAllThenResumeDoesNotBackfill(t *testing.T) {
	trig := newCountingTrigger()
	regions := &fakeRegions{regions: map[string]domain.Region{"r1": {RegionID: "r1"}}}
	runs := &fakeRuns{inProgress: map[string]bool{}}
	s, closeFn := newTestScheduler(t, trig, runs, regions)
	defer closeFn()

	require.NoError(t, s.Start(context.Background(), "r1", "0 0 1 1 *", false))
	s.PauseAll()
	s.ResumeAll()

	jobs := s.ActiveJobs()
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].NextFireAt.After(time.Now()), "resume must schedule from now, not backfill")
}

func TestTriggerNowEnqueuesWithoutOwnership(t *testing.T) {
	trig := newCountingTrigger()
	regions := &fakeRegions{regions: map[string]domain.Region{"r1": {RegionID: "r1"}}}
	runs := &fakeRuns{inProgress: map[string]bool{}}
	s, closeFn := newTestScheduler(t, trig, runs, regions)
	defer closeFn()

	require.NoError(t, s.TriggerNow(context.Background(), "r1"))
	select {
	case <-trig.done:
	case <-time.After(time.Second):
		t.Fatal("TriggerNow never reached the orchestrator")
	}
	require.Equal(t, 1, trig.count("r1"))
}
