// Package logging builds the zap loggers the CLI hands to every
// component. Library packages never construct loggers themselves; they
// take a *zap.Logger and treat nil as silent.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the standard JSON production logger. Verbose lowers the
// level to debug.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// NewDevelopment builds a console logger for local debugging.
func NewDevelopment() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
