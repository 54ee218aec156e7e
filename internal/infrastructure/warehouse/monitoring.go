package warehouse

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/run"
)

// RecordRun upserts the monitoring row for one pipeline run. The run id
// partition is replaced so repeated writes are idempotent.
func (s *Store) RecordRun(ctx context.Context, pr *run.PipelineRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_monitoring WHERE run_id = ?`, pr.RunID.String()); err != nil {
		return fmt.Errorf("clear pipeline_monitoring: %w", err)
	}

	var finishedAt any
	if pr.EndTime != nil {
		finishedAt = pr.EndTime.UTC()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO pipeline_monitoring VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.RunID.String(),
		string(pr.Status),
		string(pr.Phase),
		pr.StartTime.UTC(),
		finishedAt,
		pr.Duration().Seconds(),
		pr.RecordsExtracted,
		pr.RecordsProcessed,
		pr.RecordsFailed,
		pr.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert pipeline_monitoring row: %w", err)
	}
	return tx.Commit()
}

// RecordQualityReports replaces the quality rows for one run and the
// subjects covered by the reports.
func (s *Store) RecordQualityReports(ctx context.Context, runID uuid.UUID, reports []quality.Report) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seen := make(map[string]struct{})
	for _, r := range reports {
		if _, ok := seen[r.SubjectTable]; ok {
			continue
		}
		seen[r.SubjectTable] = struct{}{}
		if _, err := tx.ExecContext(ctx, `DELETE FROM data_quality_metrics WHERE run_id = ? AND subject_table = ?`, runID.String(), r.SubjectTable); err != nil {
			return fmt.Errorf("clear data_quality_metrics: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO data_quality_metrics VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reports {
		_, err := stmt.ExecContext(ctx,
			runID.String(),
			r.SubjectTable,
			r.CheckDate.Format("2006-01-02"),
			string(r.CheckType),
			r.MetricName,
			r.MetricValue,
			r.Threshold,
			string(r.Status),
		)
		if err != nil {
			return fmt.Errorf("insert data_quality_metrics row %s: %w", r.MetricName, err)
		}
	}
	return tx.Commit()
}
