package handlers

import (
	"net/http"
	"net/url"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/balsam/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseUUID parses a UUID from a path parameter
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id, nil
}

// ParseKey reads a reconciliation key from a path parameter. Keys are path-escaped by clients.
func ParseKey(c echo.Context, param string) (models.ReconciliationKey, error) {
	raw, err := url.PathUnescape(c.Param(param))
	if err != nil {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: %s", param, err.Error())
	}
	if raw == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}
	return models.ReconciliationKey(raw), nil
}

// BindAndValidate decodes the request body into req and checks its validate tags
func BindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}
	return nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// AcceptedResponse returns a 202 Accepted with data
func AcceptedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
