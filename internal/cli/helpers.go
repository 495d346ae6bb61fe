package cli

import (
	"github.com/forestshield/core/internal/config"
	"github.com/forestshield/core/internal/daemon"
	"github.com/forestshield/core/internal/errs"
)

// exitCode maps a classified error to the exit codes spec §6 defines
// for any CLI front-end: 1 validation error, 2 backend unavailable,
// 3 resource not found. Anything else (Conflict, Partial, Fatal,
// unclassified) falls back to the generic validation code — it is
// always the caller's request that can't proceed, not automatically a
// backend outage.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return 3
	case errs.KindTransient, errs.KindCapacity:
		return 2
	default:
		return 1
	}
}

// openApp loads config and wires an App for a single CLI invocation.
func openApp() (*daemon.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg)
}
