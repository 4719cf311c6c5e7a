package util

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger modes.
const (
	LogModeDevelopment = "development"
	LogModeRelease     = "release"
)

// NewLogger builds the process logger.
//
// Arguments:
//   - mode: "release" for JSON output at info level, anything else for colourised
//     console output at debug level.
//   - level: Optional level override ("debug", "info", "warn", "error").
//
// Returns:
//   - *zap.Logger: The logger. Call Sync before exiting.
//   - error: An error if the level is unknown or the logger cannot be built.
func NewLogger(mode, level string) (*zap.Logger, error) {
	var config zap.Config

	if strings.EqualFold(mode, LogModeRelease) {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", level)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	return config.Build()
}
