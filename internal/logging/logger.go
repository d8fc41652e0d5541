// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option adjusts the zap configuration before the logger is built.
type Option func(*zap.Config) error

// WithLevel overrides the minimum level ("debug", "info", "warn", ...).
// An empty level keeps the preset's default.
func WithLevel(level string) Option {
	return func(cfg *zap.Config) error {
		if level == "" {
			return nil
		}
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return nil
	}
}

// WithOutputPaths replaces the sinks the logger writes to.
func WithOutputPaths(paths ...string) Option {
	return func(cfg *zap.Config) error {
		if len(paths) > 0 {
			cfg.OutputPaths = paths
		}
		return nil
	}
}

// New builds a zap.Logger: a colored console logger in development, JSON
// otherwise.
func New(development bool, opts ...Option) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
