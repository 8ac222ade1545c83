// Package logger builds the structured zap loggers used across emberdb.
// Every component — keyspace, tree, journal, compaction executor — receives
// a *zap.SugaredLogger tagged with its own "service" field so log lines can
// be filtered by subsystem without touching the subsystems themselves.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger scoped to service and returns its
// sugared form, matching the ergonomic call sites used throughout the
// engine (log.Infow, log.Errorw, ...).
func New(service string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	log, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Building the production config only fails on a malformed
		// encoder config, which never happens with the values set above.
		// Fall back to a bare logger rather than leaving callers with nil.
		log = zap.NewExample()
	}

	return log.Sugar().With("service", service).With("pid", os.Getpid())
}

// NewDevelopment builds a human-readable, colorized logger for local runs
// and tests where the structured JSON production encoder is hard to read.
func NewDevelopment(service string) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	log, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		log = zap.NewExample()
	}

	return log.Sugar().With("service", service)
}

// Nop returns a logger that discards everything, used by tests that don't
// care about log output but still need to satisfy a *zap.SugaredLogger
// dependency.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
