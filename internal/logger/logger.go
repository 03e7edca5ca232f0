package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"paper-trader-go/internal/config"
)

// New creates the process logger from the logger section. Format "json"
// selects the production encoder, anything else the development console one.
func New(cfg config.Logger) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger.level: %w", err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(logLevel)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// No sampling: every rejection must reach the log.
	zc.Sampling = nil
	if len(cfg.Output) > 0 {
		zc.OutputPaths = cfg.Output
	}

	return zc.Build()
}

// ForCommand names the logger after a CLI command and tags its mode.
func ForCommand(base *zap.Logger, command string) *zap.Logger {
	return base.Named(command).With(zap.String("mode", command))
}
