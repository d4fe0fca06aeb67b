// Package logging builds the zap loggers used by the oracle binaries.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Service string `yaml:"service" json:"service"`
	// Development switches to console output at debug level.
	Development bool `yaml:"development" json:"development"`
	// Enclave restricts output to errors, without caller or stack traces.
	Enclave bool `yaml:"enclave" json:"enclave"`
	// Level overrides the mode's default level ("debug", "info", "warn", "error").
	Level string `yaml:"level" json:"level"`
}

// New builds a logger for cfg. Production mode emits structured JSON at info.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	switch {
	case cfg.Enclave:
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		zc.DisableCaller = true
		zc.DisableStacktrace = true
	case cfg.Development:
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}
	return logger, nil
}

// WithAttempt scopes a logger to one report-generation attempt.
func WithAttempt(l *zap.Logger, attemptID, marketID string) *zap.Logger {
	return l.With(zap.String("attempt_id", attemptID), zap.String("market_id", marketID))
}
