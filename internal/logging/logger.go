// Package logging builds the single *zap.Logger threaded through every
// RalphX component via constructor injection.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's level, encoding, and sink.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// DefaultConfig returns console logging to stderr at info level, the shape
// an interactive `ralphx run` invocation wants.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", OutputPath: "stderr"}
}

// New builds a zap.Logger from cfg. Format "console" selects zap's
// development encoder; any other value is passed to zap as the encoding
// name ("json" gives the production encoder with ISO-8601 timestamps).
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{cfg.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
