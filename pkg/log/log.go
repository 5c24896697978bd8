// Package log constructs the logr.Logger every component in this repository
// depends on, so library code never imports zap directly.
package log

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger construction.
type Options struct {
	// Development selects a human-readable console encoder instead of JSON.
	Development bool
	// Level is one of "debug", "info", "warn", "error". Empty defaults to "info".
	Level string
}

// NewLogger builds a logr.Logger backed by zap, per SPEC_FULL.md §A.1.
func NewLogger(opts Options) (logr.Logger, error) {
	level := parseLevel(opts.Level)

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zl), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
