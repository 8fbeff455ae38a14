// Package locking provides the exclusivity lease that keeps two runs off the same scope.
package locking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// Request describes a lease to take.
type Request struct {
	LockKey  string
	LockType string
	HolderID string
	JobID    *uuid.UUID
	TTL      time.Duration
}

// Locker implementations must acquire in one atomic step: insert when absent, or take over
// a row whose lease already expired. A held, unexpired lease yields *errors.LockContentionError.
// Extend on a lease the caller no longer holds yields *errors.LockExpiredError.
type Locker interface {
	Acquire(ctx context.Context, req Request) (*models.ReconciliationLock, error)
	Extend(ctx context.Context, lock *models.ReconciliationLock, ttl time.Duration) (*models.ReconciliationLock, error)
	Release(ctx context.Context, lock *models.ReconciliationLock) error
}
