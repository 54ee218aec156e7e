package logger

import (
	"context"

	"go.uber.org/zap"
)

// contextKey is a type for context keys used by the logger package
type contextKey string

const (
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
	// RunIDKey is the context key for the pipeline run ID
	RunIDKey contextKey = "run_id"
	// PhaseKey is the context key for the pipeline phase
	PhaseKey contextKey = "phase"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context, returns a no-op logger if not found
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRunID adds the run ID to context and returns an enriched logger
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, RunIDKey, runID)
	enrichedLogger := logger.With(zap.String("run_id", runID))
	return WithContext(ctx, enrichedLogger), enrichedLogger
}

// WithPhase adds the pipeline phase to context and returns an enriched logger
func WithPhase(ctx context.Context, logger *zap.Logger, phase string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, PhaseKey, phase)
	enrichedLogger := logger.With(zap.String("phase", phase))
	return WithContext(ctx, enrichedLogger), enrichedLogger
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetPhase retrieves the pipeline phase from context
func GetPhase(ctx context.Context) string {
	if phase, ok := ctx.Value(PhaseKey).(string); ok {
		return phase
	}
	return ""
}
