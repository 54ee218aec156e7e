package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/run"
	"github.com/techmart/pipeline/internal/domain/shared"
)

func setupRunLedgerTestDB(t *testing.T) *RunLedgerRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return NewRunLedgerRepository(db)
}

func TestRunLedgerRepository_CreateAndGet(t *testing.T) {
	repo := setupRunLedgerTestDB(t)
	ctx := context.Background()

	pr := run.NewPipelineRun("techmart-etl")
	require.NoError(t, repo.Create(ctx, pr))

	found, err := repo.Get(ctx, pr.RunID)
	require.NoError(t, err)
	assert.Equal(t, pr.RunID, found.RunID)
	assert.Equal(t, run.StatusRunning, found.Status)
	assert.Equal(t, run.PhaseExtract, found.Phase)

	t.Run("duplicate run id is rejected", func(t *testing.T) {
		err := repo.Create(ctx, pr)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("unknown run id is not found", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestRunLedgerRepository_Update(t *testing.T) {
	repo := setupRunLedgerTestDB(t)
	ctx := context.Background()

	pr := run.NewPipelineRun("techmart-etl")
	require.NoError(t, repo.Create(ctx, pr))

	pr.SetPhase(run.PhaseTransform)
	pr.AddExtracted(1050)
	pr.AddProcessed(1000)
	pr.AddFailed(50)
	pr.QualityScore = 0.987
	require.NoError(t, repo.Update(ctx, pr))

	found, err := repo.Get(ctx, pr.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.PhaseTransform, found.Phase)
	assert.Equal(t, int64(1050), found.RecordsExtracted)
	assert.Equal(t, int64(1000), found.RecordsProcessed)
	assert.Equal(t, int64(50), found.RecordsFailed)
	assert.Equal(t, 0.987, found.QualityScore)

	t.Run("terminal rows are immutable", func(t *testing.T) {
		require.NoError(t, pr.Complete())
		require.NoError(t, repo.Update(ctx, pr))

		pr2 := *pr
		err := repo.Update(ctx, &pr2)
		assert.ErrorIs(t, err, shared.ErrInvalidState)

		found, err := repo.Get(ctx, pr.RunID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusSuccess, found.Status)
		require.NotNil(t, found.EndTime)
	})

	t.Run("unknown run id errors", func(t *testing.T) {
		ghost := run.NewPipelineRun("techmart-etl")
		assert.ErrorIs(t, repo.Update(ctx, ghost), shared.ErrNotFound)
	})
}

func TestRunLedgerRepository_ListRecent(t *testing.T) {
	repo := setupRunLedgerTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pr := run.NewPipelineRun("techmart-etl")
		pr.StartTime = time.Date(2026, 3, 10+i, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Create(ctx, pr))
	}

	runs, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartTime.After(runs[1].StartTime))
}

func TestRunLedgerRepository_QualityReports(t *testing.T) {
	repo := setupRunLedgerTestDB(t)
	ctx := context.Background()
	runID := uuid.New()

	checkDate := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	reports := func(subject string, value float64) []quality.Report {
		return []quality.Report{
			{
				SubjectTable: subject,
				CheckDate:    checkDate,
				CheckType:    quality.CheckAccuracy,
				MetricName:   "accuracy_ratio",
				MetricValue:  value,
				Threshold:    0.99,
				Status:       quality.StatusPass,
			},
			{
				SubjectTable: subject,
				CheckDate:    checkDate,
				CheckType:    quality.CheckCompleteness,
				MetricName:   "completeness_ratio",
				MetricValue:  value,
				Threshold:    0.95,
				Status:       quality.StatusPass,
			},
		}
	}

	require.NoError(t, repo.SaveQualityReports(ctx, runID, reports("transactions", 1.0)))
	require.NoError(t, repo.SaveQualityReports(ctx, runID, reports("transaction_stream", 0.99)))

	t.Run("both subjects are kept", func(t *testing.T) {
		stored, err := repo.QualityReports(ctx, runID)
		require.NoError(t, err)
		assert.Len(t, stored, 4)
	})

	t.Run("re-saving a subject replaces only that subject", func(t *testing.T) {
		require.NoError(t, repo.SaveQualityReports(ctx, runID, reports("transaction_stream", 0.97)))

		stored, err := repo.QualityReports(ctx, runID)
		require.NoError(t, err)
		require.Len(t, stored, 4)

		for _, report := range stored {
			switch report.SubjectTable {
			case "transactions":
				assert.Equal(t, 1.0, report.MetricValue)
			case "transaction_stream":
				assert.Equal(t, 0.97, report.MetricValue)
			}
		}
	})

	t.Run("empty report set is a no-op", func(t *testing.T) {
		require.NoError(t, repo.SaveQualityReports(ctx, runID, nil))
	})
}
