package domain

import "github.com/forestshield/core/internal/errs"

// Domain-level sentinel errors, grouped by the subsystem that raises
// them. These wrap the Kind taxonomy in errs with entity-specific
// messages so callers can errors.Is against a stable identity while
// still recovering the Kind via errs.KindOf.

var (
	// Region errors
	ErrRegionNotFound      = errs.New(errs.KindNotFound, "region not found")
	ErrRegionAlreadyExists = errs.New(errs.KindConflict, "region already exists")

	// Alert errors
	ErrAlertNotFound  = errs.New(errs.KindNotFound, "alert not found")
	ErrAlertDuplicate = errs.New(errs.KindConflict, "alert already recorded for dedupe key")

	// AnalysisRun errors
	ErrRunNotFound       = errs.New(errs.KindNotFound, "analysis run not found")
	ErrRunAlreadyRunning = errs.New(errs.KindConflict, "region already has an in-progress run")

	// Model Lifecycle Manager errors
	ErrModelNotFound         = errs.New(errs.KindNotFound, "tile model not found")
	ErrConcurrentModelUpdate = errs.New(errs.KindFatal, "concurrent model update: latest pointer flip exhausted retries")

	// Region Scheduler errors
	ErrScheduleNotFound  = errs.New(errs.KindNotFound, "scheduled job not found")
	ErrClaimDenied       = errs.New(errs.KindConflict, "ownership claim denied")
	ErrInvalidCron       = errs.New(errs.KindValidation, "cron expression could not be parsed")

	// Analysis Orchestrator errors
	ErrPayloadTooLarge = errs.New(errs.KindValidation, "state transition payload exceeds size ceiling")
	ErrRunTimedOut     = errs.New(errs.KindFatal, "analysis run exceeded its total timeout")
)
