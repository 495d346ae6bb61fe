// Package logging constructs the structured zap.Logger every
// ForestShield subsystem names with .Named(subsystem): the Analysis
// Orchestrator, Model Lifecycle Manager, Region Scheduler, Results
// Consolidator, and the infrastructure adapters (sss, objectstore,
// coordinator).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forestshield/core/internal/config"
)

// New builds a zap.Logger from cfg. JSON encoding is used in production
// (cfg.JSON); a human-readable console encoder is used otherwise, for
// local development.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.JSON {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}
