package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/balsam/pkg/database"
	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const locksTable = "reconciliation_locks"

const lockColumns = "lock_key, lock_type, holder_id, token, job_id, acquired_at, expires_at"

var _ locking.Locker = (*LockRepository)(nil)

// LockRepository stores exclusivity leases in postgres
type LockRepository struct {
	*Repository
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db database.DB, logger ectologger.Logger) *LockRepository {
	return &LockRepository{
		Repository: NewRepository(db, logger),
	}
}

func expiresIn(ttl time.Duration) any {
	return sqlbuilder.Raw(fmt.Sprintf("NOW() + INTERVAL '%d milliseconds'", ttl.Milliseconds()))
}

// Acquire inserts the lease or takes over an expired one in a single statement.
// When an unexpired lease exists, no row comes back and the caller gets a contention error.
func (r *LockRepository) Acquire(ctx context.Context, req locking.Request) (*models.ReconciliationLock, error) {
	ctx, span := tracing.StartSpan(ctx, "LockRepository.Acquire")
	defer span.End()

	if req.LockType == "" {
		req.LockType = models.DefaultLockType
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(locksTable).
		Cols("lock_key", "lock_type", "holder_id", "token", "job_id", "acquired_at", "expires_at").
		Values(req.LockKey, req.LockType, req.HolderID, uuid.NewString(), req.JobID, sqlbuilder.Raw("NOW()"), expiresIn(req.TTL))

	query, args := ib.Build()
	query += " ON CONFLICT (lock_key, lock_type) DO UPDATE SET" +
		" holder_id = EXCLUDED.holder_id, token = EXCLUDED.token, job_id = EXCLUDED.job_id," +
		" acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at" +
		" WHERE " + locksTable + ".expires_at < NOW()" +
		" RETURNING " + lockColumns

	var lock models.ReconciliationLock
	err := r.DB(ctx).GetContext(ctx, &lock, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		holder := r.holder(ctx, req.LockKey, req.LockType)
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"lock_key":  req.LockKey,
			"lock_type": req.LockType,
			"holder_id": holder,
		}).Info("Lock is held by another worker")
		return nil, &apperrors.LockContentionError{LockKey: req.LockKey, LockType: req.LockType, HolderID: holder}
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"lock_key":  req.LockKey,
			"lock_type": req.LockType,
		}).Error("failed to acquire lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to acquire lock")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"lock_key":  lock.LockKey,
		"holder_id": lock.HolderID,
	}).Debugf("Acquired %s", locksTable)
	return &lock, nil
}

// holder reads the current holder for the contention message. Failures are not fatal.
func (r *LockRepository) holder(ctx context.Context, key, lockType string) string {
	sb := database.NewSelectBuilder()
	sb.Select("holder_id").From(locksTable).Where(sb.Equal("lock_key", key), sb.Equal("lock_type", lockType))

	query, args := sb.Build()
	var holder string
	if err := r.DB(ctx).GetContext(ctx, &holder, query, args...); err != nil {
		return ""
	}
	return holder
}

// Extend pushes the expiry forward while the caller's own lease is still unexpired.
func (r *LockRepository) Extend(ctx context.Context, lock *models.ReconciliationLock, ttl time.Duration) (*models.ReconciliationLock, error) {
	ctx, span := tracing.StartSpan(ctx, "LockRepository.Extend")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(locksTable).
		Set(ub.Assign("expires_at", expiresIn(ttl))).
		Where(
			ub.Equal("lock_key", lock.LockKey),
			ub.Equal("lock_type", lock.LockType),
			ub.Equal("holder_id", lock.HolderID),
			ub.Equal("token", lock.Token),
			ub.GreaterThan("expires_at", sqlbuilder.Raw("NOW()")),
		)

	query, args := ub.Build()
	query += " RETURNING " + lockColumns

	var extended models.ReconciliationLock
	err := r.DB(ctx).GetContext(ctx, &extended, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.LockExpiredError{LockKey: lock.LockKey, LockType: lock.LockType, ExpiredAt: lock.ExpiresAt}
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"lock_key": lock.LockKey,
		}).Error("failed to extend lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to extend lock")
	}
	return &extended, nil
}

// Release deletes the lease if it is still the caller's.
func (r *LockRepository) Release(ctx context.Context, lock *models.ReconciliationLock) error {
	ctx, span := tracing.StartSpan(ctx, "LockRepository.Release")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(locksTable).
		Where(
			db.Equal("lock_key", lock.LockKey),
			db.Equal("lock_type", lock.LockType),
			db.Equal("holder_id", lock.HolderID),
			db.Equal("token", lock.Token),
		)

	query, args := db.Build()
	if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"lock_key": lock.LockKey,
		}).Error("failed to release lock")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to release lock")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"lock_key":  lock.LockKey,
		"holder_id": lock.HolderID,
	}).Debugf("Released %s", locksTable)
	return nil
}

// ReleaseExpired removes leases whose expiry passed. Returns the number removed.
func (r *LockRepository) ReleaseExpired(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "LockRepository.ReleaseExpired")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(locksTable).Where(db.LessThan("expires_at", sqlbuilder.Raw("NOW()")))

	query, args := db.Build()
	result, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to release expired locks")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to release expired locks")
	}
	return result.RowsAffected()
}
