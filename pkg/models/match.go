package models

import "github.com/shopspring/decimal"

// ReconciliationKey joins BO and partner records. See keys.Extract for its construction.
type ReconciliationKey string

func (k ReconciliationKey) String() string {
	return string(k)
}

// MatchOutcome classifies a key bucket pairing.
type MatchOutcome string

const (
	OutcomeMatched     MatchOutcome = "MATCHED"
	OutcomeMismatched  MatchOutcome = "MISMATCHED"
	OutcomeBOOnly      MatchOutcome = "BO_ONLY"
	OutcomePartnerOnly MatchOutcome = "PARTNER_ONLY"
)

// ColumnDifference is a compare pair that did not agree.
type ColumnDifference struct {
	BOColumn      string      `json:"bo_column"`
	PartnerColumn string      `json:"partner_column"`
	Kind          CompareKind `json:"kind"`
	BOValue       string      `json:"bo_value"`
	PartnerValue  string      `json:"partner_value"`
	// Delta is partner minus BO, set only when both values parsed as numbers.
	Delta     *decimal.Decimal `json:"delta,omitempty"`
	Threshold *decimal.Decimal `json:"threshold,omitempty"`
}

// MatchEntry is one classified pairing (or one-sided record) for a key.
type MatchEntry struct {
	Key         ReconciliationKey  `json:"key"`
	Outcome     MatchOutcome       `json:"outcome"`
	BO          *SideRecord        `json:"bo,omitempty"`
	Partner     *SideRecord        `json:"partner,omitempty"`
	Differences []ColumnDifference `json:"differences,omitempty"`
	// Resolved is set when an operator already accepted the key. The entry stays for audit
	// but does not count as an active discrepancy.
	Resolved bool `json:"resolved"`
}

// UnparseableRecord is a row that could not be keyed.
type UnparseableRecord struct {
	Side   Side              `json:"side"`
	Row    int               `json:"row"`
	Column string            `json:"column,omitempty"`
	Reason string            `json:"reason"`
	Record map[string]string `json:"record,omitempty"`
}

type MatchResult struct {
	Matched      []MatchEntry        `json:"matched"`
	Mismatched   []MatchEntry        `json:"mismatched"`
	BOOnly       []MatchEntry        `json:"bo_only"`
	PartnerOnly  []MatchEntry        `json:"partner_only"`
	Unparseable  []UnparseableRecord `json:"unparseable"`
	TotalBO      int                 `json:"total_bo"`
	TotalPartner int                 `json:"total_partner"`
}

// Discrepancies returns the mismatched and one-sided entries in classification order.
func (r *MatchResult) Discrepancies() []MatchEntry {
	out := make([]MatchEntry, 0, len(r.Mismatched)+len(r.BOOnly)+len(r.PartnerOnly))
	out = append(out, r.Mismatched...)
	out = append(out, r.BOOnly...)
	out = append(out, r.PartnerOnly...)
	return out
}

func countActive(entries []MatchEntry) int {
	n := 0
	for _, e := range entries {
		if !e.Resolved {
			n++
		}
	}
	return n
}

// Summary computes the counts persisted on the job and on the aggregated report.
func (r *MatchResult) Summary() ResultSummary {
	s := ResultSummary{
		TotalBO:           r.TotalBO,
		TotalPartner:      r.TotalPartner,
		Matched:           len(r.Matched),
		Mismatched:        len(r.Mismatched),
		BOOnly:            len(r.BOOnly),
		PartnerOnly:       len(r.PartnerOnly),
		ActiveMismatched:  countActive(r.Mismatched),
		ActiveBOOnly:      countActive(r.BOOnly),
		ActivePartnerOnly: countActive(r.PartnerOnly),
		Unparseable:       len(r.Unparseable),
	}
	s.Resolved = (s.Mismatched - s.ActiveMismatched) + (s.BOOnly - s.ActiveBOOnly) + (s.PartnerOnly - s.ActivePartnerOnly)

	total := s.Matched + s.Mismatched + s.BOOnly + s.PartnerOnly
	if total > 0 {
		s.MatchRate = decimal.NewFromInt(int64(s.Matched + s.Resolved)).
			Div(decimal.NewFromInt(int64(total))).
			Mul(decimal.NewFromInt(100)).
			Round(2).
			InexactFloat64()
	}
	return s
}

// ResultSummary holds the counts of a run. Active* exclude resolved keys.
type ResultSummary struct {
	TotalBO           int     `json:"total_bo"`
	TotalPartner      int     `json:"total_partner"`
	Matched           int     `json:"matched"`
	Mismatched        int     `json:"mismatched"`
	BOOnly            int     `json:"bo_only"`
	PartnerOnly       int     `json:"partner_only"`
	ActiveMismatched  int     `json:"active_mismatched"`
	ActiveBOOnly      int     `json:"active_bo_only"`
	ActivePartnerOnly int     `json:"active_partner_only"`
	Resolved          int     `json:"resolved"`
	Unparseable       int     `json:"unparseable"`
	MatchRate         float64 `json:"match_rate"`
}

// ActiveDiscrepancies is the number of entries still needing attention.
func (s ResultSummary) ActiveDiscrepancies() int {
	return s.ActiveMismatched + s.ActiveBOOnly + s.ActivePartnerOnly
}
