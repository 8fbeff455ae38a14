package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// Store persists jobs. Transition must be a compare-and-set on the current status.
type Store interface {
	Create(ctx context.Context, job *models.ReconciliationJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
	ListPending(ctx context.Context, limit int) ([]models.ReconciliationJob, error)
	Transition(ctx context.Context, id uuid.UUID, t models.JobTransition) (*models.ReconciliationJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress models.JobProgress) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
}

// ThresholdSource supplies the tolerance table for a run.
type ThresholdSource interface {
	List(ctx context.Context) ([]models.Threshold, error)
}

// StaticThresholds serves a fixed table.
type StaticThresholds []models.Threshold

func (s StaticThresholds) List(context.Context) ([]models.Threshold, error) {
	return s, nil
}

// ReportStore keeps the aggregated row of a completed run.
type ReportStore interface {
	Create(ctx context.Context, report *models.ReconciliationReport) error
}

// ProgressEmitter publishes progress checkpoints to the external layer.
type ProgressEmitter interface {
	EmitProgress(ctx context.Context, event models.ProgressEvent) error
}

// ResultSink receives the full match result of a completed run before the job is marked COMPLETED.
type ResultSink interface {
	StoreResult(ctx context.Context, jobID uuid.UUID, result *models.MatchResult) error
}

// ResultDiscarder is implemented by sinks that can drop a stored result when the run
// fails to commit afterwards.
type ResultDiscarder interface {
	DiscardResult(ctx context.Context, jobID uuid.UUID) error
}

// Transactor runs fn in one transaction. Store and ReportStore calls made with fn's
// context commit or roll back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
