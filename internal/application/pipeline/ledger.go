package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/run"
)

// RunRepository persists run rows and quality reports in the operational store.
type RunRepository interface {
	Create(ctx context.Context, pr *run.PipelineRun) error
	Update(ctx context.Context, pr *run.PipelineRun) error
	SaveQualityReports(ctx context.Context, runID uuid.UUID, reports []quality.Report) error
}

// RunMonitor mirrors run state and quality reports into the analytical store.
type RunMonitor interface {
	RecordRun(ctx context.Context, pr *run.PipelineRun) error
	RecordQualityReports(ctx context.Context, runID uuid.UUID, reports []quality.Report) error
}

// RunLedger is the sole writer of run bookkeeping. It records lifecycle
// transitions and quality results to both sinks so no other component
// touches pipeline_runs, pipeline_monitoring or the quality tables.
type RunLedger struct {
	repo    RunRepository
	monitor RunMonitor
	logger  *zap.Logger
}

// NewRunLedger creates a ledger over both sinks. monitor may be nil when no
// analytical store is configured.
func NewRunLedger(repo RunRepository, monitor RunMonitor, logger *zap.Logger) *RunLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLedger{repo: repo, monitor: monitor, logger: logger.Named("ledger")}
}

// Started records a freshly created run. The operational row is
// authoritative; a failed mirror write is logged, not fatal.
func (l *RunLedger) Started(ctx context.Context, pr *run.PipelineRun) error {
	if err := l.repo.Create(ctx, pr); err != nil {
		return err
	}
	l.mirror(ctx, pr)
	return nil
}

// Progress persists updated counters and phase for an active run.
func (l *RunLedger) Progress(ctx context.Context, pr *run.PipelineRun) error {
	if err := l.repo.Update(ctx, pr); err != nil {
		return err
	}
	l.mirror(ctx, pr)
	return nil
}

// Finished records the terminal state of a run.
func (l *RunLedger) Finished(ctx context.Context, pr *run.PipelineRun) error {
	if err := l.repo.Update(ctx, pr); err != nil {
		return err
	}
	l.mirror(ctx, pr)
	l.logger.Info("run finished",
		zap.String("run_id", pr.RunID.String()),
		zap.String("status", string(pr.Status)),
		zap.Int64("records_extracted", pr.RecordsExtracted),
		zap.Int64("records_processed", pr.RecordsProcessed),
		zap.Int64("records_failed", pr.RecordsFailed),
		zap.Duration("duration", pr.Duration()))
	return nil
}

// RecordQuality persists one quality result under the run in both sinks.
func (l *RunLedger) RecordQuality(ctx context.Context, runID uuid.UUID, result quality.Result) error {
	if err := l.repo.SaveQualityReports(ctx, runID, result.Reports); err != nil {
		return err
	}
	if l.monitor != nil {
		if err := l.monitor.RecordQualityReports(ctx, runID, result.Reports); err != nil {
			l.logger.Warn("failed to mirror quality reports to analytical store",
				zap.String("run_id", runID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (l *RunLedger) mirror(ctx context.Context, pr *run.PipelineRun) {
	if l.monitor == nil {
		return
	}
	if err := l.monitor.RecordRun(ctx, pr); err != nil {
		l.logger.Warn("failed to mirror run to analytical store",
			zap.String("run_id", pr.RunID.String()),
			zap.Error(err))
	}
}
