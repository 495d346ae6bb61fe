package sss

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := domain.Region{
		RegionID: "r1", Name: "Amazon basin",
		Center: domain.Center{Latitude: -6, Longitude: -53},
		RadiusKM: 10, Status: domain.RegionActive, CreatedAt: time.Now(),
	}
	require.NoError(t, s.PutRegion(ctx, r))

	got, err := s.GetRegion(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, r.Name, got.Name)

	_, err = s.GetRegion(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrRegionNotFound)

	list, err := s.ListRegions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteRegion(ctx, "r1"))
	require.ErrorIs(t, s.DeleteRegion(ctx, "r1"), domain.ErrRegionNotFound)
}

func TestUpdateRegionMutatesUnderTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRegion(ctx, domain.Region{RegionID: "r1", Status: domain.RegionActive}))

	updated, err := s.UpdateRegion(ctx, "r1", func(r *domain.Region) error {
		r.Status = domain.RegionPaused
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, domain.RegionPaused, updated.Status)

	got, err := s.GetRegion(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, domain.RegionPaused, got.Status)
}

func TestAlertDedupeConditionalPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now()
	a := domain.Alert{
		AlertID: "a1", RegionID: "r1", Level: domain.AlertModerate,
		Timestamp: ts, DedupeKey: domain.AlertDedupeKey("r1", ts),
	}
	created, err := s.PutAlertIfAbsent(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	a2 := a
	a2.AlertID = "a2"
	created, err = s.PutAlertIfAbsent(ctx, a2)
	require.NoError(t, err)
	require.False(t, created, "second alert with same dedupe key must be a no-op")

	list, err := s.ListAlertsByRegion(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCASLatestPointer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CASLatestPointer(ctx, "T1", "amazon", "", "v1"))
	_, _, err := s.GetLatestPointer(ctx, "T1", "amazon")
	require.NoError(t, err)

	err = s.CASLatestPointer(ctx, "T1", "amazon", "wrong", "v2")
	require.ErrorIs(t, err, errs.ErrConditionFailed)

	require.NoError(t, s.CASLatestPointer(ctx, "T1", "amazon", "v1", "v2"))
	version, ok, err := s.GetLatestPointer(ctx, "T1", "amazon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", version)
}

func TestRunInProgressTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := domain.AnalysisRun{RunID: "run1", RegionID: "r1", Status: domain.RunInProgress, StartedAt: time.Now()}
	require.NoError(t, s.PutRun(ctx, run))

	has, err := s.HasInProgressRun(ctx, "r1")
	require.NoError(t, err)
	require.True(t, has)

	runs, err := s.ListRunsInProgress(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run.Status = domain.RunSucceeded
	now := time.Now()
	run.EndedAt = &now
	require.NoError(t, s.PutRun(ctx, run))

	has, err = s.HasInProgressRun(ctx, "r1")
	require.NoError(t, err)
	require.False(t, has)
}
