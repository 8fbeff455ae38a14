package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

// KeyStatusService records operator decisions on reconciliation keys
type KeyStatusService interface {
	Mark(ctx context.Context, key models.ReconciliationKey, status models.KeyStatusValue) (*models.KeyStatus, error)
	Unmark(ctx context.Context, key models.ReconciliationKey) error
	Query(ctx context.Context, key models.ReconciliationKey) (*models.KeyStatus, error)
	History(ctx context.Context, key models.ReconciliationKey) ([]models.KeyStatusChange, error)
}

// KeyHandler handles key status endpoints
type KeyHandler struct {
	service KeyStatusService
	logger  ectologger.Logger
}

// NewKeyHandler creates a new key handler
func NewKeyHandler(service KeyStatusService, logger ectologger.Logger) *KeyHandler {
	return &KeyHandler{service: service, logger: logger}
}

// MarkKeyRequest represents the mark request body
type MarkKeyRequest struct {
	Status string `json:"status" validate:"required"`
}

// Register registers key routes
func (h *KeyHandler) Register(g *echo.Group) {
	g.PUT("/:key", h.Mark)
	g.DELETE("/:key", h.Unmark)
	g.GET("/:key", h.Query)
	g.GET("/:key/history", h.History)
}

// Mark sets a key to OK or KO
func (h *KeyHandler) Mark(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "KeyHandler.Mark")
	defer span.End()

	key, err := ParseKey(c, "key")
	if err != nil {
		return err
	}
	var req MarkKeyRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}
	status, err := models.ParseKeyStatus(req.Status)
	if err != nil {
		return err
	}

	row, err := h.service.Mark(ctx, key, status)
	if err != nil {
		return err
	}
	return SuccessResponse(c, row)
}

// Unmark clears a key's status
func (h *KeyHandler) Unmark(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "KeyHandler.Unmark")
	defer span.End()

	key, err := ParseKey(c, "key")
	if err != nil {
		return err
	}
	if err := h.service.Unmark(ctx, key); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// Query returns a key's current status
func (h *KeyHandler) Query(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "KeyHandler.Query")
	defer span.End()

	key, err := ParseKey(c, "key")
	if err != nil {
		return err
	}
	row, err := h.service.Query(ctx, key)
	if err != nil {
		return err
	}
	return SuccessResponse(c, row)
}

// History returns every status change of a key, oldest first
func (h *KeyHandler) History(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "KeyHandler.History")
	defer span.End()

	key, err := ParseKey(c, "key")
	if err != nil {
		return err
	}
	changes, err := h.service.History(ctx, key)
	if err != nil {
		return err
	}
	return SuccessResponse(c, changes)
}
