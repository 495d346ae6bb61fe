// Package scheduler implements the Region Scheduler: per-region cron
// registrations, cross-replica ownership via the Distributed
// Coordinator, and a bounded job queue that hands firings to the
// Analysis Orchestrator.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
	"github.com/forestshield/core/internal/metrics"
)

// Config tunes ownership TTL, worker pool size, retention, and the
// per-firing budget handed to the Analysis Orchestrator.
type Config struct {
	ClaimTTL     time.Duration
	QueueDepth   int
	Workers      int
	RetentionAge time.Duration
	RunTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClaimTTL:     60 * time.Second,
		QueueDepth:   256,
		Workers:      4,
		RetentionAge: 7 * 24 * time.Hour,
		RunTimeout:   30 * time.Minute,
	}
}

// Trigger is the subset of the Analysis Orchestrator the scheduler
// drives a firing through.
type Trigger interface {
	Trigger(ctx context.Context, region domain.Region) (domain.AnalysisRun, error)
}

// RunChecker backs the "in-progress skip" firing rule: a firing is
// skipped, not queued, if the region already has an IN_PROGRESS run.
type RunChecker interface {
	HasInProgressRun(ctx context.Context, regionID string) (bool, error)
}

// RegionResolver looks up the region a job fires against.
type RegionResolver interface {
	GetRegion(ctx context.Context, regionID string) (domain.Region, error)
}

// job is the scheduler's live bookkeeping for one registered region,
// mirrored (minus the runtime handles) into domain.ScheduledJob for
// active_jobs().
type job struct {
	regionID   string
	cronExpr   string
	schedule   cron.Schedule
	nextFireAt time.Time
	lastFired  *time.Time
	owned      bool
	running    bool
	paused     bool
	cancel     context.CancelFunc
}

// firing is one unit of queued work: a region ready to be handed to AO.
type firing struct {
	regionID  string
	enqueued  time.Time
}

// Scheduler owns per-region cron schedules, claims ownership of each
// via the Distributed Coordinator, and feeds firings into a bounded
// worker pool that invokes the Analysis Orchestrator.
type Scheduler struct {
	cfg   Config
	coord domain.Coordinator
	runs  RunChecker
	regions RegionResolver
	trig  Trigger
	log   *zap.Logger
	clock func() time.Time

	mu     sync.Mutex
	jobs   map[string]*job
	queue  chan firing
	wg     sync.WaitGroup
	stopCh chan struct{}

	statsMu   sync.Mutex
	completed int64
	failed    int64
}

// New constructs a Scheduler and starts its worker pool. Call Close to
// drain workers and cancel all owned schedules.
func New(cfg Config, coord domain.Coordinator, runs RunChecker, regions RegionResolver, trig Trigger, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultConfig().ClaimTTL
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}
	s := &Scheduler{
		cfg: cfg, coord: coord, runs: runs, regions: regions, trig: trig,
		log: log.Named("scheduler"), clock: func() time.Time { return time.Now().UTC() },
		jobs:   make(map[string]*job),
		queue:  make(chan firing, cfg.QueueDepth),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.runWorker(i)
	}
	return s
}

// ownershipKey is the Distributed Coordinator claim key for a region's
// cron ownership.
func ownershipKey(regionID string) string { return "scheduler:" + regionID }

// Start registers cron for regionID, attempts to claim ownership via
// the Distributed Coordinator, and — if the claim succeeds — begins
// firing on schedule. A denied claim still records the registration
// locally (active_jobs reflects it) but produces no firings, per
// spec §4.6.
func (s *Scheduler) Start(ctx context.Context, regionID, cronExpr string, triggerImmediate bool) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return errs.Wrap(errs.KindValidation, err, "parse cron expression")
	}

	s.mu.Lock()
	if existing, ok := s.jobs[regionID]; ok {
		if existing.cancel != nil {
			existing.cancel()
		}
		delete(s.jobs, regionID)
	}
	j := &job{regionID: regionID, cronExpr: cronExpr, schedule: sched}
	s.jobs[regionID] = j
	s.mu.Unlock()

	ok, err := s.coord.Claim(ctx, ownershipKey(regionID), s.cfg.ClaimTTL)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "claim scheduler ownership")
	}

	s.mu.Lock()
	j.owned = ok
	now := s.clock()
	if ok {
		j.nextFireAt = sched.Next(now)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Info("ownership claim denied, region registered without firing",
			zap.String("region_id", regionID))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	j.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runFirer(runCtx, j)

	if triggerImmediate {
		s.fireAndAdvance(ctx, j, now)
	}
	return nil
}

// Stop releases ownership and cancels regionID's timer immediately.
// In-flight analysis runs for the region are NOT cancelled; they run
// to completion per spec §5.
func (s *Scheduler) Stop(ctx context.Context, regionID string) error {
	s.mu.Lock()
	j, ok := s.jobs[regionID]
	if ok {
		delete(s.jobs, regionID)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrScheduleNotFound
	}
	if j.cancel != nil {
		j.cancel()
	}
	if j.owned {
		if err := s.coord.Release(ctx, ownershipKey(regionID)); err != nil {
			s.log.Warn("release ownership failed", zap.String("region_id", regionID), zap.Error(err))
		}
	}
	return nil
}

// PauseAll stops firings for every registered region but preserves
// ownership claims, so ResumeAll is instant (no reclaim race).
func (s *Scheduler) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		j.paused = true
	}
}

// ResumeAll re-enables firing. Missed firings during the pause are not
// backfilled: the next scheduled time from now is used, per spec §4.6
// and Testable Property 10.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for _, j := range s.jobs {
		j.paused = false
		if j.owned {
			j.nextFireAt = j.schedule.Next(now)
		}
	}
}

// ActiveJobs returns a snapshot of every registered region's firing
// status.
func (s *Scheduler) ActiveJobs() []domain.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, domain.ScheduledJob{
			RegionID:       j.regionID,
			CronExpression: j.cronExpr,
			NextFireAt:     j.nextFireAt,
			LastFiredAt:    j.lastFired,
			OwnerReplicaID: ownerLabel(j.owned),
			IsRunning:      j.running && j.owned && !j.paused,
		})
	}
	return out
}

func ownerLabel(owned bool) string {
	if owned {
		return "self"
	}
	return ""
}

// QueueStats reports the job queue's lifecycle counters.
func (s *Scheduler) QueueStats() domain.QueueStats {
	s.mu.Lock()
	active := 0
	delayed := 0
	for _, j := range s.jobs {
		if j.owned && !j.paused {
			if j.running {
				active++
			} else {
				delayed++
			}
		}
	}
	s.mu.Unlock()

	s.statsMu.Lock()
	completed, failed := s.completed, s.failed
	s.statsMu.Unlock()

	return domain.QueueStats{
		Waiting:   len(s.queue),
		Active:    active,
		Completed: int(completed),
		Failed:    int(failed),
		Delayed:   delayed,
	}
}

// CleanupOldJobs is a no-op placeholder for registries that persist
// completed/failed firing records; the in-process Scheduler keeps no
// history beyond the live counters QueueStats reports, so there is
// nothing older than RetentionAge to prune. Kept as an explicit
// operation so a persistent-history backend can implement it without
// changing the Scheduler's public surface.
func (s *Scheduler) CleanupOldJobs(ctx context.Context) error {
	return nil
}

// runFirer owns one region's refresh/fire loop for as long as ctx is
// live and ownership keeps refreshing successfully.
func (s *Scheduler) runFirer(ctx context.Context, j *job) {
	defer s.wg.Done()
	refreshEvery := s.cfg.ClaimTTL / 2
	refreshTicker := time.NewTicker(refreshEvery)
	defer refreshTicker.Stop()

	for {
		s.mu.Lock()
		next := j.nextFireAt
		s.mu.Unlock()
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		fireTimer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			fireTimer.Stop()
			return
		case <-refreshTicker.C:
			fireTimer.Stop()
			ok, err := s.coord.Refresh(ctx, ownershipKey(j.regionID), s.cfg.ClaimTTL)
			if err != nil || !ok {
				s.log.Warn("ownership refresh failed, stopping firer",
					zap.String("region_id", j.regionID), zap.Error(err))
				s.mu.Lock()
				j.owned = false
				s.mu.Unlock()
				return
			}
		case <-fireTimer.C:
			s.mu.Lock()
			paused := j.paused
			now := s.clock()
			j.nextFireAt = j.schedule.Next(now)
			s.mu.Unlock()
			if !paused {
				s.fireAndAdvance(ctx, j, now)
			}
		}
	}
}

// fireAndAdvance stamps the region's last-fired time and enqueues the
// firing, unless an earlier run for the same region is still in
// progress (skip-not-queue, per spec §4.6).
func (s *Scheduler) fireAndAdvance(ctx context.Context, j *job, at time.Time) {
	if s.runs != nil {
		inProgress, err := s.runs.HasInProgressRun(ctx, j.regionID)
		if err != nil {
			s.log.Warn("in-progress check failed, firing anyway", zap.String("region_id", j.regionID), zap.Error(err))
		} else if inProgress {
			s.log.Info("skipping firing, region already has an in-progress run", zap.String("region_id", j.regionID))
			metrics.SchedulerFirings.WithLabelValues("skipped").Inc()
			return
		}
	}
	s.mu.Lock()
	j.lastFired = &at
	s.mu.Unlock()
	metrics.SchedulerFirings.WithLabelValues("fired").Inc()
	s.enqueue(j.regionID)
}

func (s *Scheduler) enqueue(regionID string) {
	select {
	case s.queue <- firing{regionID: regionID, enqueued: s.clock()}:
		metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
	default:
		s.log.Warn("scheduler queue full, dropping firing", zap.String("region_id", regionID))
	}
}

// runWorker drains the firing queue and drives each firing through the
// Analysis Orchestrator.
func (s *Scheduler) runWorker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case f, ok := <-s.queue:
			if !ok {
				return
			}
			metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
			s.runFiring(f)
		}
	}
}

func (s *Scheduler) runFiring(f firing) {
	s.mu.Lock()
	j := s.jobs[f.regionID]
	if j != nil {
		j.running = true
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if j != nil {
			j.running = false
		}
		s.mu.Unlock()
	}()

	// A minute of slack over RunTimeout lets the orchestrator's own
	// per-run deadline fire first and record TIMED_OUT cleanly, rather
	// than this outer context winning the race and surfacing as a
	// plain context-canceled failure.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout+time.Minute)
	defer cancel()

	region, err := s.regions.GetRegion(ctx, f.regionID)
	if err != nil {
		s.log.Error("firing could not resolve region", zap.String("region_id", f.regionID), zap.Error(err))
		s.statsMu.Lock()
		s.failed++
		s.statsMu.Unlock()
		return
	}

	if _, err := s.trig.Trigger(ctx, region); err != nil {
		s.log.Error("analysis run failed", zap.String("region_id", f.regionID), zap.Error(err))
		s.statsMu.Lock()
		s.failed++
		s.statsMu.Unlock()
		return
	}
	s.statsMu.Lock()
	s.completed++
	s.statsMu.Unlock()
}

// TriggerNow enqueues an immediate out-of-schedule firing for regionID,
// backing the "enqueue immediate analysis" operation from spec §6. It
// does not require the caller to own the region's cron — any replica
// can request an immediate run.
func (s *Scheduler) TriggerNow(ctx context.Context, regionID string) error {
	s.enqueue(regionID)
	return nil
}

// Close stops accepting new firings, cancels every owned schedule, and
// waits for in-flight firings to finish.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
		}
	}
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
	return nil
}
