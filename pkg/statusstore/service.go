package statusstore

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/balsam/pkg/context"
	"github.com/Ramsey-B/balsam/pkg/metrics"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

// SystemOperator is recorded as marked_by when no operator is on the context.
const SystemOperator = "system"

// Notifier is told about every operator write.
type Notifier interface {
	EmitKeyStatusChanged(ctx context.Context, status *models.KeyStatus) error
}

// Service exposes the operator overrides: mark, unmark and query.
type Service struct {
	store    Store
	notifier Notifier
	logger   ectologger.Logger
}

func NewService(store Store, logger ectologger.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// WithNotifier publishes status changes after they are stored.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) written(ctx context.Context, row *models.KeyStatus) {
	metrics.KeyStatusWrites.WithLabelValues(string(row.Status)).Inc()
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EmitKeyStatusChanged(ctx, row); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("key", string(row.Key)).Warn("failed to publish key status change")
	}
}

func operator(ctx context.Context) string {
	if op := appctx.GetOperator(ctx); op != "" {
		return op
	}
	return SystemOperator
}

// Mark records an operator decision. Only OK and KO are accepted.
func (s *Service) Mark(ctx context.Context, key models.ReconciliationKey, status models.KeyStatusValue) (*models.KeyStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "StatusService.Mark")
	defer span.End()

	if key == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	if status != models.KeyStatusOK && status != models.KeyStatusKO {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "status must be OK or KO, got '%s'", status)
	}

	row, err := s.store.Upsert(ctx, key, status, operator(ctx))
	if err != nil {
		return nil, err
	}
	s.written(ctx, row)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"key":       string(key),
		"status":    string(status),
		"marked_by": row.MarkedBy,
	}).Info("key status marked")
	return row, nil
}

// Unmark writes the CLEARED tombstone. The key then reads as absent while its
// history is kept.
func (s *Service) Unmark(ctx context.Context, key models.ReconciliationKey) error {
	ctx, span := tracing.StartSpan(ctx, "StatusService.Unmark")
	defer span.End()

	if key == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	row, err := s.store.Upsert(ctx, key, models.KeyStatusCleared, operator(ctx))
	if err != nil {
		return err
	}
	s.written(ctx, row)

	s.logger.WithContext(ctx).WithField("key", string(key)).Info("key status cleared")
	return nil
}

// Query returns the current status, or a 404 when the key is unmarked.
func (s *Service) Query(ctx context.Context, key models.ReconciliationKey) (*models.KeyStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "StatusService.Query")
	defer span.End()

	row, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "key status not found")
	}
	return row, nil
}

func (s *Service) History(ctx context.Context, key models.ReconciliationKey) ([]models.KeyStatusChange, error) {
	return s.store.History(ctx, key)
}
