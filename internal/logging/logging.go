// Package logging builds the zap logger used across the scheduler,
// keeping the teacher's terse bracket-tag message convention
// ("[Component] message") as the log message itself, with structured
// fields carrying the data that used to be interpolated with Sprintf.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. In "production" env it emits JSON at info
// level; otherwise a human-readable console encoder at debug level,
// mirroring the teacher's verbose local-dev logging.
func New(env string) *zap.Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}
	logger, err := cfg.Build()
	if err != nil {
		// zap itself failed to build; fall back to a no-op logger rather
		// than crash logging setup.
		return zap.NewNop()
	}
	return logger
}

// NewFromEnv reads LOG_ENV (defaulting to "development").
func NewFromEnv() *zap.Logger {
	env := os.Getenv("LOG_ENV")
	if env == "" {
		env = "development"
	}
	return New(env)
}
