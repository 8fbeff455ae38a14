package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/balsam/pkg/database"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/statusstore"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const (
	keyStatusesTable      = "key_statuses"
	keyStatusHistoryTable = "key_status_history"
	// bulkGetChunk bounds the array parameter of one BulkGet query
	bulkGetChunk = 5000
)

var (
	keyStatusStruct       = database.NewStruct(new(models.KeyStatus))
	keyStatusChangeStruct = database.NewStruct(new(models.KeyStatusChange))
)

var _ statusstore.Store = (*KeyStatusRepository)(nil)

// The status row and its audit row are written by one statement. updated_at never goes
// backwards even if two writes land in the same transaction timestamp.
const upsertKeyStatusQuery = `
WITH upserted AS (
	INSERT INTO key_statuses (key, status, marked_by, created_at, updated_at)
	VALUES ($1, $2, $3, NOW(), NOW())
	ON CONFLICT (key) DO UPDATE SET
		status = EXCLUDED.status,
		marked_by = EXCLUDED.marked_by,
		updated_at = GREATEST(NOW(), key_statuses.updated_at + INTERVAL '1 microsecond')
	RETURNING key, status, marked_by, created_at, updated_at
), audit AS (
	INSERT INTO key_status_history (id, key, status, marked_by, created_at)
	SELECT $4, key, status, marked_by, updated_at FROM upserted
)
SELECT key, status, marked_by, created_at, updated_at FROM upserted`

// KeyStatusRepository is the postgres-backed status store
type KeyStatusRepository struct {
	*Repository
}

// NewKeyStatusRepository creates a new key status repository
func NewKeyStatusRepository(db database.DB, logger ectologger.Logger) *KeyStatusRepository {
	return &KeyStatusRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert writes the status for a key. Last writer wins.
func (r *KeyStatusRepository) Upsert(ctx context.Context, key models.ReconciliationKey, status models.KeyStatusValue, markedBy string) (*models.KeyStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "KeyStatusRepository.Upsert")
	defer span.End()

	var row models.KeyStatus
	err := r.DB(ctx).GetContext(ctx, &row, upsertKeyStatusQuery, string(key), string(status), markedBy, uuid.New())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"key":    key.String(),
			"status": status,
		}).Error("failed to upsert key status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert key status")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"key":       key.String(),
		"status":    status,
		"marked_by": markedBy,
	}).Debugf("Upserted %s", keyStatusesTable)
	return &row, nil
}

// Get returns the live status of a key. Cleared keys are reported as absent.
func (r *KeyStatusRepository) Get(ctx context.Context, key models.ReconciliationKey) (*models.KeyStatus, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "KeyStatusRepository.Get")
	defer span.End()

	sb := keyStatusStruct.SelectFrom(keyStatusesTable)
	sb.Where(sb.Equal("key", string(key)), sb.NotEqual("status", string(models.KeyStatusCleared)))

	query, args := sb.Build()
	var row models.KeyStatus
	err := r.DB(ctx).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"key": key.String(),
		}).Error("failed to get key status")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get key status")
	}
	return &row, true, nil
}

// BulkGet returns the live statuses of the given keys, chunked to keep each query bounded.
func (r *KeyStatusRepository) BulkGet(ctx context.Context, keys []models.ReconciliationKey) (map[models.ReconciliationKey]models.KeyStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "KeyStatusRepository.BulkGet")
	defer span.End()

	out := make(map[models.ReconciliationKey]models.KeyStatus)
	for start := 0; start < len(keys); start += bulkGetChunk {
		end := min(start+bulkGetChunk, len(keys))
		chunk := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			chunk = append(chunk, string(k))
		}

		sb := keyStatusStruct.SelectFrom(keyStatusesTable)
		sb.Where(
			"key = ANY("+sb.Var(pq.Array(chunk))+")",
			sb.NotEqual("status", string(models.KeyStatusCleared)),
		)

		query, args := sb.Build()
		var rows []models.KeyStatus
		if err := r.DB(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"keys": len(keys),
			}).Error("failed to bulk get key statuses")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to bulk get key statuses")
		}
		for _, row := range rows {
			out[row.Key] = row
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"requested": len(keys),
		"found":     len(out),
	}).Debugf("Bulk read %s", keyStatusesTable)
	return out, nil
}

// History returns every write for a key, oldest first
func (r *KeyStatusRepository) History(ctx context.Context, key models.ReconciliationKey) ([]models.KeyStatusChange, error) {
	ctx, span := tracing.StartSpan(ctx, "KeyStatusRepository.History")
	defer span.End()

	sb := keyStatusChangeStruct.SelectFrom(keyStatusHistoryTable)
	sb.Where(sb.Equal("key", string(key)))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var changes []models.KeyStatusChange
	if err := r.DB(ctx).SelectContext(ctx, &changes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"key": key.String(),
		}).Error("failed to list key status history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list key status history")
	}
	return changes, nil
}
