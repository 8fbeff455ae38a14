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
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const processingModelsTable = "processing_models"

var processingModelStruct = database.NewStruct(new(models.StoredProcessingModel))

// ProcessingModelRepository handles database operations for processing models
type ProcessingModelRepository struct {
	*Repository
}

// NewProcessingModelRepository creates a new processing model repository
func NewProcessingModelRepository(db database.DB, logger ectologger.Logger) *ProcessingModelRepository {
	return &ProcessingModelRepository{
		Repository: NewRepository(db, logger),
	}
}

// Save validates the model and creates or replaces it by name
func (r *ProcessingModelRepository) Save(ctx context.Context, model *models.ProcessingModel) error {
	ctx, span := tracing.StartSpan(ctx, "ProcessingModelRepository.Save")
	defer span.End()

	if err := model.Validate(); err != nil {
		return err
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(processingModelsTable).
		Cols("id", "name", "definition", "created_at", "updated_at").
		Values(model.ID, model.Name, database.NewJSONB(*model), sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

	query, args := ib.Build()
	query += " ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition, updated_at = NOW()" +
		" RETURNING id"

	if err := r.DB(ctx).QueryRowxContext(ctx, query, args...).Scan(&model.ID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"model_name": model.Name,
		}).Error("failed to save processing model")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save processing model")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"model_id":   model.ID,
		"model_name": model.Name,
	}).Debugf("Saved %s", processingModelsTable)
	return nil
}

// GetByID retrieves a processing model by ID
func (r *ProcessingModelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingModel, error) {
	ctx, span := tracing.StartSpan(ctx, "ProcessingModelRepository.GetByID")
	defer span.End()

	sb := processingModelStruct.SelectFrom(processingModelsTable)
	sb.Where(sb.Equal("id", id))
	return r.get(ctx, sb, id.String())
}

// GetByName retrieves a processing model by its unique name
func (r *ProcessingModelRepository) GetByName(ctx context.Context, name string) (*models.ProcessingModel, error) {
	ctx, span := tracing.StartSpan(ctx, "ProcessingModelRepository.GetByName")
	defer span.End()

	sb := processingModelStruct.SelectFrom(processingModelsTable)
	sb.Where(sb.Equal("name", name))
	return r.get(ctx, sb, name)
}

func (r *ProcessingModelRepository) get(ctx context.Context, sb *database.SelectBuilder, ref string) (*models.ProcessingModel, error) {
	query, args := sb.Build()
	var stored models.StoredProcessingModel
	err := r.DB(ctx).GetContext(ctx, &stored, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "processing model %s does not exist", ref)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"model": ref,
		}).Error("failed to get processing model")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get processing model")
	}

	model := stored.Model()
	return &model, nil
}

// List returns every stored model ordered by name
func (r *ProcessingModelRepository) List(ctx context.Context) ([]models.ProcessingModel, error) {
	ctx, span := tracing.StartSpan(ctx, "ProcessingModelRepository.List")
	defer span.End()

	sb := processingModelStruct.SelectFrom(processingModelsTable)
	sb.OrderBy("name")

	query, args := sb.Build()
	var stored []models.StoredProcessingModel
	if err := r.DB(ctx).SelectContext(ctx, &stored, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list processing models")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list processing models")
	}

	out := make([]models.ProcessingModel, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Model())
	}
	return out, nil
}
