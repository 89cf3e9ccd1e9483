// Package logger holds the process-wide zap logger and the structured
// field names every gbvm component logs with.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger. It discards everything until
// InitializeWithLevel runs.
var Logger = zap.NewNop().Sugar()

// InitializeWithLevel replaces the global logger. JSON output uses zap's
// production config; console output is a compact encoder. Both write to
// stderr: stdout carries command results and the worker protocol.
func InitializeWithLevel(jsonOutput bool, level zapcore.Level) error {
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		zapLogger, err := config.Build()
		if err != nil {
			return err
		}
		Logger = zapLogger.Sugar()
		return nil
	}

	Logger = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig()),
		zapcore.AddSync(os.Stderr),
		level,
	)).Sugar()
	return nil
}

// ParseLevel reads a configured level name, falling back to info.
func ParseLevel(name string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.CallerKey = ""
	return cfg
}

// Cleanup flushes buffered entries
func Cleanup() {
	_ = Logger.Sync()
}

// OrNop returns log, or a no-op logger when log is nil.
// Components accept an optional logger and call this once in their constructor.
func OrNop(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}
