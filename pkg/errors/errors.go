package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// ConfigurationError reports a missing or invalid processing model or rule.
// It is job-scoped: the run fails before matching starts.
type ConfigurationError struct {
	Field   string
	Message string
}

func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: field '%s': %s", e.Field, e.Message)
}

func (e *ConfigurationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).AddMetaValue("field", e.Field)
}

// InputError is record-scoped. It is collected and reported, never fatal for the run.
type InputError struct {
	Side    string
	Row     int
	Column  string
	Message string
}

func NewInputError(side string, row int, column, message string) *InputError {
	return &InputError{Side: side, Row: row, Column: column, Message: message}
}

func (e *InputError) Error() string {
	path := []string{}
	if e.Side != "" {
		path = append(path, fmt.Sprintf("side '%s'", e.Side))
	}
	if e.Row >= 0 {
		path = append(path, fmt.Sprintf("row %d", e.Row))
	}
	if e.Column != "" {
		path = append(path, fmt.Sprintf("column '%s'", e.Column))
	}
	if len(path) == 0 {
		return e.Message
	}
	return strings.Join(path, " -> ") + ": " + e.Message
}

func (e *InputError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).
		AddMetaValue("side", e.Side).
		AddMetaValue("row", strconv.Itoa(e.Row)).
		AddMetaValue("column", e.Column)
}

// InvalidKeyError is an InputError raised when a declared key column is absent.
type InvalidKeyError struct {
	*InputError
}

func NewInvalidKeyError(column string) *InvalidKeyError {
	return &InvalidKeyError{InputError: NewInputError("", -1, column, "key column is missing")}
}

// At attaches the record's origin once the caller knows it.
func (e *InvalidKeyError) At(side string, row int) *InvalidKeyError {
	e.Side = side
	e.Row = row
	return e
}

func (e *InvalidKeyError) Unwrap() error {
	return e.InputError
}

// LockContentionError means another holder owns an unexpired lock. Recoverable: retry later.
type LockContentionError struct {
	LockKey  string
	LockType string
	HolderID string
}

func (e *LockContentionError) Error() string {
	if e.HolderID == "" {
		return fmt.Sprintf("lock %s/%s is held by another run", e.LockType, e.LockKey)
	}
	return fmt.Sprintf("lock %s/%s is held by %s", e.LockType, e.LockKey, e.HolderID)
}

func (e *LockContentionError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).
		AddMetaValue("lock_key", e.LockKey).
		AddMetaValue("lock_type", e.LockType).
		AddMetaValue("retryable", "true")
}

// LockExpiredError means the run lost exclusivity mid-flight and must abort.
type LockExpiredError struct {
	LockKey   string
	LockType  string
	ExpiredAt time.Time
}

func (e *LockExpiredError) Error() string {
	if e.ExpiredAt.IsZero() {
		return fmt.Sprintf("lock %s/%s is no longer held", e.LockType, e.LockKey)
	}
	return fmt.Sprintf("lock %s/%s expired at %s", e.LockType, e.LockKey, e.ExpiredAt.UTC().Format(time.RFC3339))
}

func (e *LockExpiredError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).
		AddMetaValue("lock_key", e.LockKey).
		AddMetaValue("lock_type", e.LockType)
}

// ToleranceConfigError marks a missing threshold. Callers fall back to exact matching.
type ToleranceConfigError struct {
	OwnerCode     string
	OperationType string
}

func (e *ToleranceConfigError) Error() string {
	return fmt.Sprintf("no threshold configured for owner '%s' and operation type '%s'", e.OwnerCode, e.OperationType)
}

func (e *ToleranceConfigError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusNotFound, e.Error())
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsInputError(err error) bool {
	var target *InputError
	return errors.As(err, &target)
}

func IsInvalidKeyError(err error) bool {
	var target *InvalidKeyError
	return errors.As(err, &target)
}

func IsLockContentionError(err error) bool {
	var target *LockContentionError
	return errors.As(err, &target)
}

func IsLockExpiredError(err error) bool {
	var target *LockExpiredError
	return errors.As(err, &target)
}

func IsToleranceConfigError(err error) bool {
	var target *ToleranceConfigError
	return errors.As(err, &target)
}
