package tolerance

import (
	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
)

// Wildcard matches any owner code or operation type in a threshold row.
const Wildcard = "*"

// Resolver returns the tolerance to use for an (owner, operation type).
type Resolver interface {
	Resolve(ownerCode, operationType string) decimal.Decimal
}

type tableKey struct {
	owner string
	op    string
}

// Table is an immutable in-memory threshold lookup, loaded once per run.
type Table struct {
	entries map[tableKey]decimal.Decimal
	logger  ectologger.Logger
}

// NewTable indexes thresholds. Negative amounts are rejected as configuration errors.
func NewTable(thresholds []models.Threshold, logger ectologger.Logger) (*Table, error) {
	t := &Table{
		entries: make(map[tableKey]decimal.Decimal, len(thresholds)),
		logger:  logger,
	}
	for _, th := range thresholds {
		if th.Amount.IsNegative() {
			return nil, apperrors.NewConfigurationError("amount", "threshold for owner '%s' and operation type '%s' is negative", th.OwnerCode, th.OperationType)
		}
		t.entries[tableKey{owner: th.OwnerCode, op: th.OperationType}] = th.Amount
	}
	return t, nil
}

// Lookup finds the most specific row: exact, then owner wildcard op, then wildcard owner,
// then the global wildcard row. A miss is a *errors.ToleranceConfigError.
func (t *Table) Lookup(ownerCode, operationType string) (decimal.Decimal, error) {
	candidates := []tableKey{
		{ownerCode, operationType},
		{ownerCode, Wildcard},
		{Wildcard, operationType},
		{Wildcard, Wildcard},
	}
	for _, k := range candidates {
		if amount, ok := t.entries[k]; ok {
			return amount, nil
		}
	}
	return decimal.Zero, &apperrors.ToleranceConfigError{OwnerCode: ownerCode, OperationType: operationType}
}

// Resolve is Lookup with the missing-threshold case defaulting to zero (exact match).
func (t *Table) Resolve(ownerCode, operationType string) decimal.Decimal {
	amount, err := t.Lookup(ownerCode, operationType)
	if err != nil {
		if t.logger != nil {
			t.logger.WithFields(map[string]any{
				"owner_code":     ownerCode,
				"operation_type": operationType,
			}).Debug("no threshold configured, using exact match")
		}
		return decimal.Zero
	}
	return amount
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Fixed resolves every lookup to the same amount.
type Fixed decimal.Decimal

func (f Fixed) Resolve(string, string) decimal.Decimal {
	return decimal.Decimal(f)
}
