// Package orchestrator implements the Analysis Orchestrator: a durable,
// branching state machine that drives one region's analysis run from
// image discovery through per-image clustering to alert consolidation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/forestshield/core/internal/consolidator"
	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
	"github.com/forestshield/core/internal/metrics"
	"github.com/forestshield/core/internal/mlm"
	"github.com/forestshield/core/internal/worker"
)

// Config tunes AO's concurrency, retry and payload-size limits.
type Config struct {
	MaxParallelImages int
	MaxPayloadBytes   int
	Retry             RetryPolicy
	SearchLookback    time.Duration
	RunTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxParallelImages: 5,
		MaxPayloadBytes:   256 * 1024,
		Retry:             DefaultRetryPolicy(),
		SearchLookback:    30 * 24 * time.Hour,
		RunTimeout:        30 * time.Minute,
	}
}

// RunStore is the subset of the Shared State Store AO needs: durable
// per-transition checkpointing and the crash-recovery scan.
type RunStore interface {
	PutRun(ctx context.Context, r domain.AnalysisRun) error
	GetRun(ctx context.Context, runID string) (domain.AnalysisRun, error)
	ListRunsInProgress(ctx context.Context) ([]domain.AnalysisRun, error)
}

// RegionStore is the subset AO needs to stamp a region's last-analysis
// bookkeeping once a run finishes.
type RegionStore interface {
	UpdateRegion(ctx context.Context, regionID string, mutate func(*domain.Region) error) (domain.Region, error)
}

// ModelLifecycle is the Model Lifecycle Manager boundary AO drives the
// per-image model decisions through.
type ModelLifecycle interface {
	GetLatestModel(ctx context.Context, tileID, regionTag string) (*domain.TileModel, error)
	SelectOptimalK(ctx context.Context, trainingDataRef string) (mlm.KSelectionOutcome, error)
	SaveNewModel(ctx context.Context, tileID, regionTag string, artifact []byte, sourceTrainingJob string, optimalK int) (domain.TileModel, error)
}

// ResultsConsolidator is the Results Consolidator boundary AO hands the
// completed per-image fan-out to.
type ResultsConsolidator interface {
	Consolidate(ctx context.Context, regionID, regionName string, images []consolidator.ImageResult) (consolidator.Result, error)
}

// Orchestrator implements the Analysis Orchestrator.
type Orchestrator struct {
	cfg      Config
	runs     RunStore
	regions  RegionStore
	objects  domain.ObjectStore
	workers  domain.WorkerInvoker
	models   ModelLifecycle
	rc       ResultsConsolidator
	log      *zap.Logger
	breakers *breakerRegistry
}

func New(cfg Config, runs RunStore, regions RegionStore, objects domain.ObjectStore, workers domain.WorkerInvoker, models ModelLifecycle, rc ResultsConsolidator, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxParallelImages <= 0 {
		cfg.MaxParallelImages = DefaultConfig().MaxParallelImages
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}
	return &Orchestrator{
		cfg: cfg, runs: runs, regions: regions, objects: objects, workers: workers,
		models: models, rc: rc, log: log.Named("orchestrator"), breakers: newBreakerRegistry(),
	}
}

// invoke dispatches a worker call through its circuit breaker and the
// configured retry policy, marshaling req and unmarshaling resp.
func (o *Orchestrator) invoke(ctx context.Context, name string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.KindFatal, err, "marshal "+name+" request")
	}
	cb := o.breakers.get(name)
	var out []byte
	err = withRetry(ctx, o.cfg.Retry, func() error {
		var execErr error
		out, execErr = cb.Execute(func() ([]byte, error) {
			return o.workers.Invoke(ctx, name, payload)
		})
		if execErr != nil {
			if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
				return errs.Wrap(errs.KindCapacity, execErr, name+" circuit open")
			}
		}
		return execErr
	})
	if err != nil {
		metrics.WorkerInvocations.WithLabelValues(name, "error").Inc()
		return err
	}
	if o.cfg.MaxPayloadBytes > 0 && len(out) > o.cfg.MaxPayloadBytes {
		metrics.WorkerInvocations.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("%s response of %d bytes: %w", name, len(out), domain.ErrPayloadTooLarge)
	}
	metrics.WorkerInvocations.WithLabelValues(name, "success").Inc()
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(out, resp); err != nil {
		return errs.Wrap(errs.KindFatal, err, "unmarshal "+name+" response")
	}
	return nil
}

// Trigger starts a new analysis run for region, executing the full
// state machine to completion before returning. The Region Scheduler
// (or a manual trigger) calls this once per firing.
func (o *Orchestrator) Trigger(ctx context.Context, region domain.Region) (domain.AnalysisRun, error) {
	run := domain.AnalysisRun{
		RunID:     uuid.NewString(),
		RegionID:  region.RegionID,
		Status:    domain.RunInProgress,
		State:     domain.StateSearchImages,
		StartedAt: time.Now().UTC(),
	}
	if err := o.runs.PutRun(ctx, run); err != nil {
		return domain.AnalysisRun{}, errs.Wrap(errs.KindTransient, err, "checkpoint initial run state")
	}
	metrics.RunsStarted.WithLabelValues(region.RegionID).Inc()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()
	return o.drive(runCtx, run, region)
}

// Resume scans for runs left IN_PROGRESS by a crash and re-enters them
// from SearchImages — safe because every task action downstream is
// either idempotent or keyed by (run_id, state) at the collaborator.
func (o *Orchestrator) Resume(ctx context.Context, resolveRegion func(ctx context.Context, regionID string) (domain.Region, error)) error {
	runs, err := o.runs.ListRunsInProgress(ctx)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "list in-progress runs")
	}
	for _, run := range runs {
		region, err := resolveRegion(ctx, run.RegionID)
		if err != nil {
			o.log.Warn("cannot resolve region for recovered run, marking failed",
				zap.String("run_id", run.RunID), zap.Error(err))
			run.Status = domain.RunFailed
			run.Error = "region not found during recovery"
			_ = o.runs.PutRun(ctx, run)
			continue
		}
		run.State = domain.StateSearchImages
		runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
		_, err = o.drive(runCtx, run, region)
		cancel()
		if err != nil {
			o.log.Error("recovered run failed", zap.String("run_id", run.RunID), zap.Error(err))
		}
	}
	return nil
}

// drive executes the top-level state machine for run starting at
// run.State, checkpointing before and after each transition.
func (o *Orchestrator) drive(ctx context.Context, run domain.AnalysisRun, region domain.Region) (domain.AnalysisRun, error) {
	switch run.State {
	case domain.StateSearchImages:
		return o.stateSearchImages(ctx, run, region)
	default:
		// A recovered run that made it past SearchImages re-runs the
		// full search → map → consolidate path; search_images and the
		// per-image branches are idempotent, so this reprocesses rather
		// than corrupts state.
		run.State = domain.StateSearchImages
		return o.stateSearchImages(ctx, run, region)
	}
}

func (o *Orchestrator) stateSearchImages(ctx context.Context, run domain.AnalysisRun, region domain.Region) (domain.AnalysisRun, error) {
	end := time.Now().UTC()
	start := end.Add(-o.cfg.SearchLookback)
	if region.LastAnalysisAt != nil && region.LastAnalysisAt.Before(end) {
		start = *region.LastAnalysisAt
	}

	var resp worker.SearchImagesResponse
	err := o.invoke(ctx, worker.SearchImages, worker.SearchImagesRequest{
		Latitude: region.Center.Latitude, Longitude: region.Center.Longitude,
		StartDate: start.Format("2006-01-02"), EndDate: end.Format("2006-01-02"),
		CloudCover: region.CloudCoverThreshold,
	}, &resp)
	if err != nil {
		return o.failRun(ctx, run, domain.StateSearchImages, err)
	}

	input, _ := json.Marshal(resp)
	run.State = domain.StateSearchImages
	run.Input = input
	if err := o.runs.PutRun(ctx, run); err != nil {
		return run, errs.Wrap(errs.KindTransient, err, "checkpoint search_images")
	}

	if resp.Count == 0 {
		return o.stateNoImagesFound(ctx, run, region)
	}
	return o.stateMapPerImage(ctx, run, region, resp.Images)
}

func (o *Orchestrator) stateNoImagesFound(ctx context.Context, run domain.AnalysisRun, region domain.Region) (domain.AnalysisRun, error) {
	run.State = domain.StateNoImagesFound
	run.Status = domain.RunNoImagesFound
	now := time.Now().UTC()
	run.EndedAt = &now
	if err := o.runs.PutRun(ctx, run); err != nil {
		return run, errs.Wrap(errs.KindTransient, err, "checkpoint no_images_found")
	}
	_, _ = o.regions.UpdateRegion(ctx, region.RegionID, func(r *domain.Region) error {
		r.LastAnalysisAt = &now
		return nil
	})
	recordRunCompletion(run)
	return run, nil
}

func (o *Orchestrator) stateMapPerImage(ctx context.Context, run domain.AnalysisRun, region domain.Region, images []worker.ImageRef) (domain.AnalysisRun, error) {
	run.State = domain.StateMapPerImage
	if err := o.runs.PutRun(ctx, run); err != nil {
		return run, errs.Wrap(errs.KindTransient, err, "checkpoint map_per_image")
	}

	outcomes := make([]perImageOutcome, len(images))
	sem := make(chan struct{}, o.cfg.MaxParallelImages)
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, img worker.ImageRef) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = o.runPerImage(ctx, region, img)
		}(i, img)
	}
	wg.Wait()

	anySucceeded := false
	for _, oc := range outcomes {
		if oc.Success {
			anySucceeded = true
			break
		}
	}
	if !anySucceeded {
		return o.failRun(ctx, run, domain.StateMapPerImage, fmt.Errorf("all %d per-image branches failed", len(outcomes)))
	}
	return o.stateConsolidate(ctx, run, region, outcomes)
}

func (o *Orchestrator) stateConsolidate(ctx context.Context, run domain.AnalysisRun, region domain.Region, outcomes []perImageOutcome) (domain.AnalysisRun, error) {
	run.State = domain.StateConsolidate
	if err := o.runs.PutRun(ctx, run); err != nil {
		return run, errs.Wrap(errs.KindTransient, err, "checkpoint consolidate_results")
	}

	images := make([]consolidator.ImageResult, len(outcomes))
	for i, oc := range outcomes {
		img := o.toConsolidatorResult(oc)
		img.TileID = region.TileID
		images[i] = img
	}

	result, err := o.rc.Consolidate(ctx, region.RegionID, region.Name, images)
	if err != nil {
		return o.failRun(ctx, run, domain.StateConsolidate, err)
	}
	return o.stateSendAlert(ctx, run, region, result)
}

func (o *Orchestrator) stateSendAlert(ctx context.Context, run domain.AnalysisRun, region domain.Region, result consolidator.Result) (domain.AnalysisRun, error) {
	run.State = domain.StateSendAlert
	output, _ := json.Marshal(result)
	run.Output = output
	if err := o.runs.PutRun(ctx, run); err != nil {
		return run, errs.Wrap(errs.KindTransient, err, "checkpoint send_alert")
	}
	return o.stateDone(ctx, run, region, result)
}

func (o *Orchestrator) stateDone(ctx context.Context, run domain.AnalysisRun, region domain.Region, result consolidator.Result) (domain.AnalysisRun, error) {
	run.State = domain.StateDone
	run.Status = domain.RunSucceeded
	run.Progress = 100
	now := time.Now().UTC()
	run.EndedAt = &now
	if err := o.runs.PutRun(ctx, run); err != nil {
		return run, errs.Wrap(errs.KindTransient, err, "checkpoint done")
	}
	_, _ = o.regions.UpdateRegion(ctx, region.RegionID, func(r *domain.Region) error {
		r.LastAnalysisAt = &now
		r.LastDeforestationPercentage = result.DeforestationPercentage
		return nil
	})
	recordRunCompletion(run)
	return run, nil
}

// failRun terminates run at failedState, persisting the failure — a
// top-level state failure (as opposed to a PerImage.* branch failure)
// always ends the whole run, per spec §4.5's failure semantics.
func (o *Orchestrator) failRun(ctx context.Context, run domain.AnalysisRun, failedState domain.State, cause error) (domain.AnalysisRun, error) {
	if errors.Is(cause, context.DeadlineExceeded) {
		run.State = domain.StateFailed
		run.Status = domain.RunTimedOut
		run.Error = fmt.Sprintf("%s: %v", failedState, cause)
		now := time.Now().UTC()
		run.EndedAt = &now
		if err := o.runs.PutRun(ctx, run); err != nil {
			o.log.Error("failed to checkpoint timed-out run", zap.String("run_id", run.RunID), zap.Error(err))
		}
		o.log.Error("analysis run timed out", zap.String("run_id", run.RunID), zap.String("state", string(failedState)))
		recordRunCompletion(run)
		return run, domain.ErrRunTimedOut
	}

	run.State = domain.StateFailed
	run.Status = domain.RunFailed
	run.Error = fmt.Sprintf("%s: %v", failedState, cause)
	now := time.Now().UTC()
	run.EndedAt = &now
	if err := o.runs.PutRun(ctx, run); err != nil {
		o.log.Error("failed to checkpoint failed run", zap.String("run_id", run.RunID), zap.Error(err))
	}
	o.log.Error("analysis run failed", zap.String("run_id", run.RunID), zap.String("state", string(failedState)), zap.Error(cause))
	recordRunCompletion(run)
	return run, cause
}

// recordRunCompletion observes the terminal metrics for a run that has
// just reached a final status. StartedAt/EndedAt are always set by the
// caller before this runs.
func recordRunCompletion(run domain.AnalysisRun) {
	metrics.RunsCompleted.WithLabelValues(run.RegionID, string(run.Status)).Inc()
	if run.EndedAt != nil {
		metrics.RunDuration.Observe(run.EndedAt.Sub(run.StartedAt).Seconds())
	}
}
