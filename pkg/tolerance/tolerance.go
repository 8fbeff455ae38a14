// Package tolerance decides whether two compared values agree.
package tolerance

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// Comparison is the outcome of comparing one column pair.
type Comparison struct {
	Equal bool
	// Delta is partner minus BO. Nil for text columns or when either side is not a number.
	Delta *decimal.Decimal
}

// Evaluator compares post-normalization values. It holds no state.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Equal reports whether the two values agree for the pair.
func (e *Evaluator) Equal(boValue, partnerValue string, pair models.ComparePair, threshold decimal.Decimal) bool {
	return e.Compare(boValue, partnerValue, pair, threshold).Equal
}

// Compare is Equal plus the numeric delta. Text columns need exact equality; numeric
// columns agree when |partner - bo| <= threshold. A value that does not parse as a
// number is a mismatch.
func (e *Evaluator) Compare(boValue, partnerValue string, pair models.ComparePair, threshold decimal.Decimal) Comparison {
	if pair.Kind != models.CompareKindNumeric {
		return Comparison{Equal: boValue == partnerValue}
	}

	bo, err := ParseAmount(boValue)
	if err != nil {
		return Comparison{Equal: false}
	}
	partner, err := ParseAmount(partnerValue)
	if err != nil {
		return Comparison{Equal: false}
	}

	delta := partner.Sub(bo)
	return Comparison{
		Equal: delta.Abs().LessThanOrEqual(threshold.Abs()),
		Delta: &delta,
	}
}

// ParseAmount parses a numeric cell. Surrounding whitespace is ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
