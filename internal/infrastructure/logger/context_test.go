package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContext(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	newCtx := WithContext(ctx, logger)
	retrieved := FromContext(newCtx)

	assert.Equal(t, logger, retrieved)
}

func TestFromContext_NotFound(t *testing.T) {
	ctx := context.Background()

	logger := FromContext(ctx)

	assert.NotNil(t, logger)
}

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	runID := "1b4e28ba-2fa1-11d2-883f-0016d3cca427"

	newCtx, newLogger := WithRunID(ctx, logger, runID)

	assert.NotNil(t, newCtx)
	assert.NotNil(t, newLogger)
	assert.Equal(t, runID, GetRunID(newCtx))
}

func TestWithPhase(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	newCtx, newLogger := WithPhase(ctx, logger, "extract")

	assert.NotNil(t, newCtx)
	assert.NotNil(t, newLogger)
	assert.Equal(t, "extract", GetPhase(newCtx))
}

func TestGetRunID_NotFound(t *testing.T) {
	ctx := context.Background()
	runID := GetRunID(ctx)
	assert.Empty(t, runID)
}

func TestGetPhase_NotFound(t *testing.T) {
	ctx := context.Background()
	phase := GetPhase(ctx)
	assert.Empty(t, phase)
}

func TestContextChaining(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	ctx, logger = WithRunID(ctx, logger, "run-1")
	ctx, logger = WithPhase(ctx, logger, "transform")

	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "transform", GetPhase(ctx))
	assert.Equal(t, logger, FromContext(ctx))
}

func TestContextKeys(t *testing.T) {
	assert.NotEqual(t, LoggerKey, RunIDKey)
	assert.NotEqual(t, RunIDKey, PhaseKey)
	assert.NotEqual(t, LoggerKey, PhaseKey)
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), LoggerKey, "not-a-logger")

	logger := FromContext(ctx)

	assert.NotNil(t, logger)
}

func TestEnrichedLoggerCarriesRunID(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	ctx, enriched := WithRunID(context.Background(), baseLogger, "run-observed")
	enriched.Info("phase started")

	logs := recorded.All()
	assert.Len(t, logs, 1)

	fields := logs[0].ContextMap()
	assert.Equal(t, "run-observed", fields["run_id"])
	assert.Equal(t, enriched, FromContext(ctx))
}

func TestMultipleWithPhase(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	ctx, _ = WithPhase(ctx, logger, "extract")
	assert.Equal(t, "extract", GetPhase(ctx))

	ctx, _ = WithPhase(ctx, logger, "load_transactional")
	assert.Equal(t, "load_transactional", GetPhase(ctx))
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	ctx := context.Background()

	logger := FromContext(ctx)

	assert.NotPanics(t, func() {
		logger.Info("test message")
		logger.Error("test error")
	})
}
