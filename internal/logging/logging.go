// Package logging builds the root zap logger, grounded on Caddy's use of
// go.uber.org/zap (caddy.go: Log(), every module holds a *zap.Logger
// obtained via .Named(...)). There is no package-global logger here; every
// long-lived component is handed a named child of the root logger.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger. debug selects a human-readable console
// encoder at Debug level; otherwise a JSON production encoder at Info.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}

// AccessLog emits one structured line per completed response, the contract
// §1 calls out as an external "logging façade" collaborator.
func AccessLog(log *zap.Logger, method, path string, status int, bytes int64, elapsed time.Duration) {
	log.Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Int64("bytes", bytes),
		zap.Duration("elapsed", elapsed),
	)
}
