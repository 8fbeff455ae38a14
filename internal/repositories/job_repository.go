package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/balsam/pkg/database"
	"github.com/Ramsey-B/balsam/pkg/jobs"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const jobsTable = "reconciliation_jobs"

var _ jobs.Store = (*JobRepository)(nil)

var jobStruct = database.NewStruct(new(models.ReconciliationJob))

const jobColumns = "id, status, bo_file_path, partner_file_path, model_id, config_snapshot, scope, progress, " +
	"result_summary, error_message, cancel_requested, lock_key, lock_type, client_id, attempts, " +
	"created_at, updated_at, started_at, completed_at"

// JobRepository handles database operations for reconciliation jobs
type JobRepository struct {
	*Repository
}

// NewJobRepository creates a new job repository
func NewJobRepository(db database.DB, logger ectologger.Logger) *JobRepository {
	return &JobRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a new job
func (r *JobRepository) Create(ctx context.Context, job *models.ReconciliationJob) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Create")
	defer span.End()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(jobsTable).
		Cols("id", "status", "bo_file_path", "partner_file_path", "model_id", "config_snapshot",
			"scope", "progress", "lock_key", "lock_type", "client_id", "attempts", "created_at", "updated_at").
		Values(job.ID, job.Status, job.BOFilePath, job.PartnerFilePath, job.ModelID, job.ConfigSnapshot,
			job.Scope, job.Progress, job.LockKey, job.LockType, job.ClientID, job.Attempts,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB(ctx).QueryRowxContext(ctx, query, args...).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": job.ID,
		}).Error("failed to create job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create job")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": job.ID,
	}).Debugf("Created %s", jobsTable)
	return nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.GetByID")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.ReconciliationJob
	err := r.DB(ctx).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
		}).Error("failed to get job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job")
	}

	return &job, nil
}

// ListByStatus retrieves jobs in a status, oldest first
func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.ListByStatus")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.Equal("status", status))
	sb.OrderBy("created_at").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	var jobs []models.ReconciliationJob
	err := r.DB(ctx).SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
		}).Error("failed to list jobs by status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list jobs by status")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"status": status,
	}).Debugf("Listed %d jobs by status %s", len(jobs), status)
	return jobs, nil
}

// ListPending retrieves jobs waiting to run, oldest first
func (r *JobRepository) ListPending(ctx context.Context, limit int) ([]models.ReconciliationJob, error) {
	return r.ListByStatus(ctx, models.JobStatusPending, limit)
}

// Transition moves a job from t.From to t.To in one conditional update. A job that is
// no longer in t.From is left untouched and a 409 is returned.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, t models.JobTransition) (*models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Transition")
	defer span.End()

	if !models.CanTransition(t.From, t.To) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job cannot move from %s to %s", t.From, t.To)
	}

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("status", t.To),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	switch t.To {
	case models.JobStatusPreparing:
		assignments = append(assignments,
			ub.Assign("started_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("attempts", sqlbuilder.Raw("attempts + 1")),
		)
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		assignments = append(assignments, ub.Assign("completed_at", sqlbuilder.Raw("NOW()")))
	}
	if t.ErrorMessage != nil {
		assignments = append(assignments, ub.Assign("error_message", *t.ErrorMessage))
	}
	if t.ResultSummary != nil {
		assignments = append(assignments, ub.Assign("result_summary", database.NewJSONB(t.ResultSummary)))
	}

	ub.Update(jobsTable).
		Set(assignments...).
		Where(ub.Equal("id", id), ub.Equal("status", t.From))

	query, args := ub.Build()
	query += " RETURNING " + jobColumns

	var job models.ReconciliationJob
	err := r.DB(ctx).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job %s is not %s", id, t.From)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
			"from":   t.From,
			"to":     t.To,
		}).Error("failed to transition job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition job")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": id,
	}).Debugf("Moved %s from %s to %s", jobsTable, t.From, t.To)
	return &job, nil
}

// UpdateProgress stores a progress snapshot unless a later one is already stored.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress models.JobProgress) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.UpdateProgress")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable).
		Set(
			ub.Assign("progress", database.NewJSONB(progress)),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("id", id),
			ub.LessThan("COALESCE((progress->>'sequence')::BIGINT, 0)", progress.Sequence),
		)

	query, args := ub.Build()
	if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
		}).Error("failed to update progress")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update progress")
	}
	return nil
}

// RequestCancel flags a non-terminal job for cancellation. The running worker observes it.
func (r *JobRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.RequestCancel")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable).
		Set(
			ub.Assign("cancel_requested", true),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("id", id),
			ub.NotIn("status", models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled),
		)

	query, args := ub.Build()
	result, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
		}).Error("failed to request cancel")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to request cancel")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to request cancel")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "job %s is missing or already finished", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": id,
	}).Info("Cancellation requested")
	return nil
}

// IsCancelRequested reports the job's cancel flag
func (r *JobRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.IsCancelRequested")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("cancel_requested").From(jobsTable).Where(sb.Equal("id", id))

	query, args := sb.Build()
	var requested bool
	err := r.DB(ctx).GetContext(ctx, &requested, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": id,
		}).Error("failed to read cancel flag")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read cancel flag")
	}
	return requested, nil
}
