// Package logging builds the process-wide zap.Logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the given environment ("production" or
// anything else, treated as development). Production logging is JSON at
// info level; development logging is console-formatted at debug level.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and callers that
// don't want to wire one in.
func Nop() *zap.Logger {
	return zap.NewNop()
}
