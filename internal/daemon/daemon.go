// Package daemon wires ForestShield's components — Shared State Store,
// Object Store, Distributed Coordinator, Model Lifecycle Manager,
// Analysis Orchestrator, Results Consolidator, Region Scheduler — into
// a single running application, and exposes the lifecycle both the
// `forestshield` CLI commands and `forestshield serve` drive it through.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/forestshield/core/internal/api"
	"github.com/forestshield/core/internal/config"
	"github.com/forestshield/core/internal/consolidator"
	"github.com/forestshield/core/internal/coordinator"
	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/health"
	"github.com/forestshield/core/internal/logging"
	"github.com/forestshield/core/internal/mlm"
	"github.com/forestshield/core/internal/objectstore"
	"github.com/forestshield/core/internal/orchestrator"
	"github.com/forestshield/core/internal/scheduler"
	"github.com/forestshield/core/internal/sss"
	"github.com/forestshield/core/internal/worker"
)

// App holds every wired component. The CLI talks to the Store/Scheduler
// fields directly; the Region Scheduler's worker pool starts in New, and
// Serve additionally runs the HTTP surface and the health-check loop.
type App struct {
	Config config.Config
	Log    *zap.Logger

	Store        *sss.Store
	Objects      domain.ObjectStore
	Coordinator  *coordinator.Coordinator
	Invoker      *worker.Invoker
	Models       *mlm.Manager
	Consolidator *consolidator.Consolidator
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Health       *health.Checker
	API          *api.Server

	httpServer *http.Server
}

// New constructs an App from cfg. The Object Store falls back to an
// in-memory Mock when no bucket is configured — a bare `forestshield`
// invocation with no AWS credentials on a developer laptop should still
// start and serve a region it can exercise against a worker stub.
func New(cfg config.Config) (*App, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := sss.Open(cfg.SSS.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open shared state store: %w", err)
	}

	objects, err := buildObjectStore(cfg.ObjectStore, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build object store: %w", err)
	}

	coord := coordinator.New(context.Background(), cfg.Coordinator.Addr, log)

	invoker := worker.NewInvoker()
	for name, url := range cfg.Workers {
		invoker.Register(name, worker.NewHTTPWorker(url))
	}

	mlmCfg := mlm.Config{
		KCandidates:           cfg.MLM.KCandidates,
		FallbackK:             cfg.MLM.FallbackK,
		MaxPointerFlipRetries: cfg.MLM.MaxPointerFlipRetries,
		PointerFlipBaseDelay:  100 * time.Millisecond,
	}
	models := mlm.New(mlmCfg, store, objects, invoker, log)

	consolidatorCfg := consolidator.DefaultConfig()
	rc := consolidator.New(consolidatorCfg, store, models, invoker, log)

	runTimeout := time.Duration(cfg.Orchestrator.RunTimeoutMinutes) * time.Minute
	orchCfg := orchestrator.Config{
		MaxParallelImages: cfg.Orchestrator.MaxParallelImages,
		MaxPayloadBytes:   cfg.Orchestrator.MaxPayloadBytes,
		SearchLookback:    time.Duration(cfg.Orchestrator.SearchLookbackDays) * 24 * time.Hour,
		RunTimeout:        runTimeout,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts:    cfg.Orchestrator.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Orchestrator.InitialBackoffMS) * time.Millisecond,
			Multiplier:     cfg.Orchestrator.Multiplier,
			JitterFraction: cfg.Orchestrator.JitterFraction,
		},
	}
	orch := orchestrator.New(orchCfg, store, store, objects, invoker, models, rc, log)

	schedCfg := scheduler.Config{
		ClaimTTL:     time.Duration(cfg.Scheduler.ClaimTTLSeconds) * time.Second,
		QueueDepth:   cfg.Scheduler.QueueDepth,
		Workers:      cfg.Scheduler.Workers,
		RetentionAge: 7 * 24 * time.Hour,
		RunTimeout:   runTimeout,
	}
	sched := scheduler.New(schedCfg, coord, store, store, orch, log)

	checker := health.NewChecker(store, objects, coord)
	apiServer := api.NewServer(checker)

	return &App{
		Config:       cfg,
		Log:          log,
		Store:        store,
		Objects:      objects,
		Coordinator:  coord,
		Invoker:      invoker,
		Models:       models,
		Consolidator: rc,
		Orchestrator: orch,
		Scheduler:    sched,
		Health:       checker,
		API:          apiServer,
	}, nil
}

func buildObjectStore(cfg config.ObjectStoreConfig, log *zap.Logger) (domain.ObjectStore, error) {
	if cfg.Bucket == "" {
		log.Warn("no object store bucket configured, using in-memory store")
		return objectstore.NewMock(), nil
	}
	store, err := objectstore.New(context.Background(), objectstore.Config{
		Bucket:      cfg.Bucket,
		Region:      cfg.Region,
		EndpointURL: cfg.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Resume re-enters any run left IN_PROGRESS by a prior crash, per the
// Analysis Orchestrator's crash-recovery contract. Call once at startup
// before Serve.
func (a *App) Resume(ctx context.Context) error {
	return a.Orchestrator.Resume(ctx, a.Store.GetRegion)
}

// Serve runs the HTTP health/metrics surface until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.Config.Telemetry.Port)
	a.httpServer = &http.Server{
		Addr:         addr,
		Handler:      a.API.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go a.Health.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("serving", zap.String("addr", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases every resource the App holds. Safe to call after a
// failed New (fields that were never built are left nil).
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
