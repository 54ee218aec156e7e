package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/run"
	"github.com/techmart/pipeline/internal/domain/shared"
)

// RunLedgerRepository persists pipeline runs and their quality reports in the
// operational store.
type RunLedgerRepository struct {
	db *gorm.DB
}

// NewRunLedgerRepository creates a new run ledger repository.
func NewRunLedgerRepository(db *gorm.DB) *RunLedgerRepository {
	return &RunLedgerRepository{db: db}
}

// Create records a freshly started run. A run id is written exactly once.
func (r *RunLedgerRepository) Create(ctx context.Context, pr *run.PipelineRun) error {
	model := PipelineRunModelFromEntity(pr)
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil && isRetryableConflict(err) {
		return fmt.Errorf("%w: run %s", shared.ErrAlreadyExists, pr.RunID)
	}
	return err
}

// Update persists run progress. Terminal rows are immutable.
func (r *RunLedgerRepository) Update(ctx context.Context, pr *run.PipelineRun) error {
	var current PipelineRunModel
	err := r.db.WithContext(ctx).Where("run_id = ?", pr.RunID).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: run %s", shared.ErrNotFound, pr.RunID)
	}
	if err != nil {
		return err
	}
	if run.Status(current.Status).IsTerminal() {
		return fmt.Errorf("%w: run %s is already %s", shared.ErrInvalidState, pr.RunID, current.Status)
	}

	model := PipelineRunModelFromEntity(pr)
	model.CreatedAt = current.CreatedAt
	return r.db.WithContext(ctx).Model(&PipelineRunModel{}).
		Where("run_id = ?", pr.RunID).
		Select("status", "phase", "end_time", "records_extracted", "records_processed", "records_failed", "quality_score", "error_message").
		Updates(model).Error
}

// Get fetches a run by id.
func (r *RunLedgerRepository) Get(ctx context.Context, runID uuid.UUID) (*run.PipelineRun, error) {
	var model PipelineRunModel
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: run %s", shared.ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListRecent returns the most recently started runs, newest first.
func (r *RunLedgerRepository) ListRecent(ctx context.Context, limit int) ([]*run.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []PipelineRunModel
	if err := r.db.WithContext(ctx).Order("start_time DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	runs := make([]*run.PipelineRun, len(models))
	for i := range models {
		runs[i] = models[i].ToEntity()
	}
	return runs, nil
}

// SaveQualityReports persists the reports of a quality result for one run.
// Re-saving the same run and subjects is idempotent; reports for other
// subjects of the run are kept.
func (r *RunLedgerRepository) SaveQualityReports(ctx context.Context, runID uuid.UUID, reports []quality.Report) error {
	if len(reports) == 0 {
		return nil
	}
	models := make([]*DataQualityMetricModel, len(reports))
	subjects := make([]string, 0, 2)
	seen := make(map[string]struct{})
	for i, rep := range reports {
		models[i] = DataQualityMetricModelFromReport(runID, rep)
		if _, ok := seen[rep.SubjectTable]; !ok {
			seen[rep.SubjectTable] = struct{}{}
			subjects = append(subjects, rep.SubjectTable)
		}
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ? AND subject_table IN ?", runID, subjects).Delete(&DataQualityMetricModel{}).Error; err != nil {
			return err
		}
		return tx.Create(models).Error
	})
}

// QualityReports returns the persisted reports for one run.
func (r *RunLedgerRepository) QualityReports(ctx context.Context, runID uuid.UUID) ([]quality.Report, error) {
	var models []DataQualityMetricModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("subject_table, metric_name").Find(&models).Error; err != nil {
		return nil, err
	}
	reports := make([]quality.Report, len(models))
	for i, m := range models {
		reports[i] = quality.Report{
			SubjectTable: m.SubjectTable,
			CheckDate:    m.CheckDate,
			CheckType:    quality.CheckType(m.CheckType),
			MetricName:   m.MetricName,
			MetricValue:  m.MetricValue,
			Threshold:    m.Threshold,
			Status:       quality.Status(m.Status),
		}
	}
	return reports, nil
}
