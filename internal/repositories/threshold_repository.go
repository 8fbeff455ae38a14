package repositories

import (
	"context"
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

const thresholdsTable = "thresholds"

var _ jobs.ThresholdSource = (*ThresholdRepository)(nil)

var thresholdStruct = database.NewStruct(new(models.Threshold))

// ThresholdRepository handles database operations for tolerance thresholds
type ThresholdRepository struct {
	*Repository
}

// NewThresholdRepository creates a new threshold repository
func NewThresholdRepository(db database.DB, logger ectologger.Logger) *ThresholdRepository {
	return &ThresholdRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns every configured threshold
func (r *ThresholdRepository) List(ctx context.Context) ([]models.Threshold, error) {
	ctx, span := tracing.StartSpan(ctx, "ThresholdRepository.List")
	defer span.End()

	sb := thresholdStruct.SelectFrom(thresholdsTable)
	sb.OrderBy("owner_code", "operation_type")

	query, args := sb.Build()
	var thresholds []models.Threshold
	if err := r.DB(ctx).SelectContext(ctx, &thresholds, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list thresholds")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list thresholds")
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s", len(thresholds), thresholdsTable)
	return thresholds, nil
}

// Upsert creates or replaces the threshold for (owner, operation type)
func (r *ThresholdRepository) Upsert(ctx context.Context, threshold *models.Threshold) error {
	ctx, span := tracing.StartSpan(ctx, "ThresholdRepository.Upsert")
	defer span.End()

	if threshold.ID == uuid.Nil {
		threshold.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(thresholdsTable).
		Cols("id", "owner_code", "operation_type", "amount", "created_at", "updated_at").
		Values(threshold.ID, threshold.OwnerCode, threshold.OperationType, threshold.Amount,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

	query, args := ib.Build()
	query += " ON CONFLICT (owner_code, operation_type) DO UPDATE SET" +
		" amount = EXCLUDED.amount, updated_at = NOW()" +
		" RETURNING id, created_at, updated_at"

	err := r.DB(ctx).QueryRowxContext(ctx, query, args...).Scan(&threshold.ID, &threshold.CreatedAt, &threshold.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"owner_code":     threshold.OwnerCode,
			"operation_type": threshold.OperationType,
		}).Error("failed to upsert threshold")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert threshold")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"owner_code":     threshold.OwnerCode,
		"operation_type": threshold.OperationType,
	}).Debugf("Upserted %s", thresholdsTable)
	return nil
}

// Delete removes the threshold for (owner, operation type)
func (r *ThresholdRepository) Delete(ctx context.Context, ownerCode, operationType string) error {
	ctx, span := tracing.StartSpan(ctx, "ThresholdRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(thresholdsTable).
		Where(db.Equal("owner_code", ownerCode), db.Equal("operation_type", operationType))

	query, args := db.Build()
	result, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete threshold")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete threshold")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete threshold")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "threshold %s/%s does not exist", ownerCode, operationType)
	}
	return nil
}
