package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across gbvm.
const (
	// Identity
	FieldBot        = "bot"
	FieldScript     = "script"
	FieldPID        = "pid"
	FieldUserID     = "user_id"
	FieldInstanceID = "instance_id"
	FieldWorkerID   = "worker_id"

	// Components
	FieldComponent = "component"
	FieldFacade    = "facade"
	FieldOperation = "operation"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"
	FieldLine  = "line"

	// Files
	FieldFile   = "file"
	FieldFolder = "folder"

	// Scheduling
	FieldCron  = "cron"
	FieldJobID = "job_id"

	// Sandbox
	FieldMode  = "mode"
	FieldLimit = "limit"
)

type contextKey string

const (
	pidKey    contextKey = "logger_pid"
	scriptKey contextKey = "logger_script"
)

// WithPID adds an invocation pid to the context for logging
func WithPID(ctx context.Context, pid int64) context.Context {
	return context.WithValue(ctx, pidKey, pid)
}

// WithScript adds a script name to the context for logging
func WithScript(ctx context.Context, script string) context.Context {
	return context.WithValue(ctx, scriptKey, script)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if pid, ok := ctx.Value(pidKey).(int64); ok && pid != 0 {
		fields = append(fields, FieldPID, pid)
	}
	if script, ok := ctx.Value(scriptKey).(string); ok && script != "" {
		fields = append(fields, FieldScript, script)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
