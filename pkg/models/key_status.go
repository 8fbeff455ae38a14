package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
)

// KeyStatusValue is the operator decision on a key.
type KeyStatusValue string

const (
	KeyStatusOK KeyStatusValue = "OK"
	KeyStatusKO KeyStatusValue = "KO"
	// KeyStatusCleared is the tombstone written by unmark. It reads as absent.
	KeyStatusCleared KeyStatusValue = "CLEARED"
)

// ParseKeyStatus accepts the statuses an operator may set.
func ParseKeyStatus(s string) (KeyStatusValue, error) {
	switch KeyStatusValue(strings.ToUpper(strings.TrimSpace(s))) {
	case KeyStatusOK:
		return KeyStatusOK, nil
	case KeyStatusKO:
		return KeyStatusKO, nil
	default:
		return "", apperrors.NewConfigurationError("status", "unknown key status %q (expected OK or KO)", s)
	}
}

type KeyStatus struct {
	Key       ReconciliationKey `db:"key" json:"key"`
	Status    KeyStatusValue    `db:"status" json:"status"`
	MarkedBy  string            `db:"marked_by" json:"marked_by"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (KeyStatus) TableName() string {
	return "key_statuses"
}

// KeyStatusChange is an audit row appended on every write.
type KeyStatusChange struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	Key       ReconciliationKey `db:"key" json:"key"`
	Status    KeyStatusValue    `db:"status" json:"status"`
	MarkedBy  string            `db:"marked_by" json:"marked_by"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (KeyStatusChange) TableName() string {
	return "key_status_history"
}
