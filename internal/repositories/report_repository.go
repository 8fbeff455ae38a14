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

const reportsTable = "reconciliation_reports"

var _ jobs.ReportStore = (*ReportRepository)(nil)

var reportStruct = database.NewStruct(new(models.ReconciliationReport))

// ReportRepository handles database operations for aggregated run reports
type ReportRepository struct {
	*Repository
}

// NewReportRepository creates a new report repository
func NewReportRepository(db database.DB, logger ectologger.Logger) *ReportRepository {
	return &ReportRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create stores the report for a job. A second report for the same job is ignored.
func (r *ReportRepository) Create(ctx context.Context, report *models.ReconciliationReport) error {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.Create")
	defer span.End()

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(reportsTable).
		Cols("id", "job_id", "report_date", "owner_code", "service", "country",
			"total_bo", "total_partner", "matched", "mismatched", "bo_only", "partner_only",
			"resolved", "unparseable", "match_rate", "created_at").
		Values(report.ID, report.JobID, report.ReportDate, report.OwnerCode, report.Service, report.Country,
			report.TotalBO, report.TotalPartner, report.Matched, report.Mismatched, report.BOOnly, report.PartnerOnly,
			report.Resolved, report.Unparseable, report.MatchRate, sqlbuilder.Raw("NOW()")).
		OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": report.JobID,
		}).Error("failed to create report")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create report")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": report.JobID,
	}).Debugf("Created %s", reportsTable)
	return nil
}

// GetByJobID retrieves the report of a job
func (r *ReportRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.ReconciliationReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.GetByJobID")
	defer span.End()

	sb := reportStruct.SelectFrom(reportsTable)
	sb.Where(sb.Equal("job_id", jobID))

	query, args := sb.Build()
	var report models.ReconciliationReport
	err := r.DB(ctx).GetContext(ctx, &report, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "report for job %s does not exist", jobID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": jobID,
		}).Error("failed to get report")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get report")
	}
	return &report, nil
}

// ListByDate retrieves the reports for one report date, newest first
func (r *ReportRepository) ListByDate(ctx context.Context, reportDate string, limit int) ([]models.ReconciliationReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.ListByDate")
	defer span.End()

	sb := reportStruct.SelectFrom(reportsTable)
	sb.Where(sb.Equal("report_date", reportDate))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var reports []models.ReconciliationReport
	if err := r.DB(ctx).SelectContext(ctx, &reports, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"report_date": reportDate,
		}).Error("failed to list reports")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list reports")
	}
	return reports, nil
}
