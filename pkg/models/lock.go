package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLockType guards reconciliation runs.
const DefaultLockType = "RECONCILIATION"

// ReconciliationLock is a lease on (LockKey, LockType). A row whose ExpiresAt is in the past is free.
// Token is minted on every acquire; only the lease carrying it may be extended or released.
type ReconciliationLock struct {
	LockKey    string     `db:"lock_key" json:"lock_key"`
	LockType   string     `db:"lock_type" json:"lock_type"`
	HolderID   string     `db:"holder_id" json:"holder_id"`
	Token      string     `db:"token" json:"token"`
	JobID      *uuid.UUID `db:"job_id" json:"job_id,omitempty"`
	AcquiredAt time.Time  `db:"acquired_at" json:"acquired_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
}

// TableName returns the database table name
func (ReconciliationLock) TableName() string {
	return "reconciliation_locks"
}

// Owns reports whether other is the same lease as l.
func (l ReconciliationLock) Owns(other ReconciliationLock) bool {
	return l.HolderID == other.HolderID && l.Token == other.Token
}

func (l ReconciliationLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
