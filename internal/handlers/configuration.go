package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tolerance"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

// ModelStore persists processing models
type ModelStore interface {
	ModelResolver
	Save(ctx context.Context, model *models.ProcessingModel) error
	List(ctx context.Context) ([]models.ProcessingModel, error)
}

// ThresholdStore persists the tolerance table
type ThresholdStore interface {
	List(ctx context.Context) ([]models.Threshold, error)
	Upsert(ctx context.Context, threshold *models.Threshold) error
	Delete(ctx context.Context, ownerCode, operationType string) error
}

// ConfigHandler handles processing model and threshold endpoints
type ConfigHandler struct {
	models     ModelStore
	thresholds ThresholdStore
	logger     ectologger.Logger
}

// NewConfigHandler creates a new configuration handler
func NewConfigHandler(modelStore ModelStore, thresholds ThresholdStore, logger ectologger.Logger) *ConfigHandler {
	return &ConfigHandler{
		models:     modelStore,
		thresholds: thresholds,
		logger:     logger,
	}
}

// RegisterModels registers processing model routes
func (h *ConfigHandler) RegisterModels(g *echo.Group) {
	g.GET("", h.ListModels)
	g.PUT("", h.SaveModel)
	g.GET("/:id", h.GetModel)
}

// RegisterThresholds registers threshold routes
func (h *ConfigHandler) RegisterThresholds(g *echo.Group) {
	g.GET("", h.ListThresholds)
	g.PUT("", h.UpsertThreshold)
	g.GET("/resolve", h.ResolveThreshold)
	g.DELETE("/:owner/:operation", h.DeleteThreshold)
}

func (h *ConfigHandler) ListModels(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.ListModels")
	defer span.End()

	list, err := h.models.List(ctx)
	if err != nil {
		return err
	}
	return SuccessResponse(c, list)
}

// SaveModel creates or replaces a model by name
func (h *ConfigHandler) SaveModel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.SaveModel")
	defer span.End()

	var model models.ProcessingModel
	if err := c.Bind(&model); err != nil {
		return BadRequest("invalid request body")
	}
	if err := h.models.Save(ctx, &model); err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"model_id": model.ID,
		"name":     model.Name,
	}).Info("Processing model saved")
	return SuccessResponse(c, model)
}

func (h *ConfigHandler) GetModel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.GetModel")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	model, err := h.models.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, model)
}

func (h *ConfigHandler) ListThresholds(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.ListThresholds")
	defer span.End()

	list, err := h.thresholds.List(ctx)
	if err != nil {
		return err
	}
	return SuccessResponse(c, list)
}

// UpsertThreshold sets the tolerance for one owner and operation type
func (h *ConfigHandler) UpsertThreshold(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.UpsertThreshold")
	defer span.End()

	var threshold models.Threshold
	if err := BindAndValidate(c, &threshold); err != nil {
		return err
	}
	if threshold.Amount.IsNegative() {
		return apperrors.NewConfigurationError("amount", "threshold must not be negative, got %s", threshold.Amount.String())
	}

	if err := h.thresholds.Upsert(ctx, &threshold); err != nil {
		return err
	}
	return SuccessResponse(c, threshold)
}

func (h *ConfigHandler) DeleteThreshold(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.DeleteThreshold")
	defer span.End()

	if err := h.thresholds.Delete(ctx, c.Param("owner"), c.Param("operation")); err != nil {
		return err
	}
	return NoContentResponse(c)
}


// ResolveThresholdResponse is the tolerance a run would apply to one owner and operation type
type ResolveThresholdResponse struct {
	OwnerCode     string          `json:"owner_code"`
	OperationType string          `json:"operation_type"`
	Amount        decimal.Decimal `json:"amount"`
}

// ResolveThreshold looks up the most specific threshold row, wildcards included.
// A pair no row covers is a 404; runs treat it as an exact match.
func (h *ConfigHandler) ResolveThreshold(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ConfigHandler.ResolveThreshold")
	defer span.End()

	owner, operation := c.QueryParam("owner"), c.QueryParam("operation")
	if owner == "" || operation == "" {
		return BadRequest("owner and operation query parameters are required")
	}

	list, err := h.thresholds.List(ctx)
	if err != nil {
		return err
	}
	table, err := tolerance.NewTable(list, h.logger)
	if err != nil {
		return err
	}
	amount, err := table.Lookup(owner, operation)
	if err != nil {
		return err
	}
	return SuccessResponse(c, ResolveThresholdResponse{OwnerCode: owner, OperationType: operation, Amount: amount})
}
