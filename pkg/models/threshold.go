package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Threshold is the numeric tolerance for one (owner, operation type). Absent means zero.
type Threshold struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	OwnerCode     string          `db:"owner_code" json:"owner_code" yaml:"owner_code" validate:"required"`
	OperationType string          `db:"operation_type" json:"operation_type" yaml:"operation_type" validate:"required"`
	Amount        decimal.Decimal `db:"amount" json:"amount" yaml:"amount"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Threshold) TableName() string {
	return "thresholds"
}
