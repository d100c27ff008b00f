package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across easyjob.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldRunID     = "run_id"
	FieldJobName   = "job_name"
	FieldJobClass  = "job_class"
	FieldRequestID = "request_id"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Operations
	FieldOperation  = "operation"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldCollection = "collection"
	FieldAttempt    = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDelay      = "delay"
	FieldInterval   = "interval"

	// Errors
	FieldError = "error"

	// Counts and status
	FieldCount  = "count"
	FieldStatus = "status"

	// Scheduling
	FieldSchedule = "schedule"
	FieldNextRun  = "next_run"

	// Network
	FieldAddress = "address"
	FieldURL     = "url"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	runIDKey     contextKey = "logger_run_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithRun adds job and run identifiers to the context for logging
func WithRun(ctx context.Context, jobID, runID int) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	return context.WithValue(ctx, runIDKey, runID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(int); ok {
		fields = append(fields, FieldJobID, jobID)
	}
	if runID, ok := ctx.Value(runIDKey).(int); ok {
		fields = append(fields, FieldRunID, runID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base decorated with the fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
//	type Scheduler struct {
//	    log *zap.SugaredLogger
//	}
//
//	s := &Scheduler{log: logger.ComponentLogger("pulse.schedule")}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// WithSymbol attaches a glyph as a structured field so logs stay greppable
// by subsystem without polluting the message.
func WithSymbol(log *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return log.With(FieldSymbol, symbol)
}
