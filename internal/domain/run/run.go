package run

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/techmart/pipeline/internal/domain/shared"
)

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether the status is final. Terminal states are
// immutable once set; a run is never reopened.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Phase names the sequential stages of one pipeline invocation.
type Phase string

const (
	PhaseExtract      Phase = "extract"
	PhasePreScore     Phase = "pre_quality_score"
	PhaseTransform    Phase = "transform"
	PhasePostScore    Phase = "post_quality_score"
	PhaseLoadTx       Phase = "load_transactional"
	PhaseLoadAnalytic Phase = "load_analytical"
	PhaseFinalize     Phase = "finalize"
)

// PipelineRun tracks one pipeline invocation from start to terminal state.
type PipelineRun struct {
	PipelineName     string     `json:"pipeline_name"`
	RunID            uuid.UUID  `json:"run_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	Status           Status     `json:"status"`
	Phase            Phase      `json:"phase"`
	RecordsExtracted int64      `json:"records_extracted"`
	RecordsProcessed int64      `json:"records_processed"`
	RecordsFailed    int64      `json:"records_failed"`
	QualityScore     float64    `json:"quality_score"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// NewPipelineRun creates a run in the RUNNING state.
func NewPipelineRun(pipelineName string) *PipelineRun {
	return &PipelineRun{
		PipelineName: pipelineName,
		RunID:        uuid.New(),
		StartTime:    time.Now().UTC(),
		Status:       StatusRunning,
		Phase:        PhaseExtract,
	}
}

// SetPhase advances the run to the named phase. Terminal runs keep their
// last recorded phase.
func (r *PipelineRun) SetPhase(p Phase) {
	if r.Status.IsTerminal() {
		return
	}
	r.Phase = p
}

// Complete transitions the run to SUCCESS.
func (r *PipelineRun) Complete() error {
	return r.finish(StatusSuccess, "")
}

// Fail transitions the run to FAILED with the surfaced message.
func (r *PipelineRun) Fail(message string) error {
	return r.finish(StatusFailed, message)
}

// Cancel transitions the run to CANCELLED. Cancellation happens between
// phases; writes already issued are allowed to complete.
func (r *PipelineRun) Cancel() error {
	return r.finish(StatusCancelled, "run cancelled")
}

func (r *PipelineRun) finish(status Status, message string) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s already %s", shared.ErrInvalidState, r.RunID, r.Status)
	}
	now := time.Now().UTC()
	r.Status = status
	r.EndTime = &now
	r.ErrorMessage = message
	return nil
}

// AddExtracted accumulates extracted record counts.
func (r *PipelineRun) AddExtracted(n int64) {
	r.RecordsExtracted += n
}

// AddProcessed accumulates successfully processed record counts.
func (r *PipelineRun) AddProcessed(n int64) {
	r.RecordsProcessed += n
}

// AddFailed accumulates rejected/failed record counts.
func (r *PipelineRun) AddFailed(n int64) {
	r.RecordsFailed += n
}

// Duration returns the elapsed run time, up to now for active runs.
func (r *PipelineRun) Duration() time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}
