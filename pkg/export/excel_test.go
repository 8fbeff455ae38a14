package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/balsam/pkg/models"
)

func sampleResult() *models.MatchResult {
	delta := decimal.NewFromInt(5)
	threshold := decimal.NewFromInt(2)
	bo := &models.SideRecord{Side: models.SideBO, Row: 0}
	partner := &models.SideRecord{Side: models.SidePartner, Row: 3}

	return &models.MatchResult{
		Matched: []models.MatchEntry{{Key: "K0", Outcome: models.OutcomeMatched, BO: bo, Partner: partner}},
		Mismatched: []models.MatchEntry{{
			Key:     "K1",
			Outcome: models.OutcomeMismatched,
			BO:      bo,
			Partner: partner,
			Differences: []models.ColumnDifference{
				{BOColumn: "amt", PartnerColumn: "amount", Kind: models.CompareKindNumeric, BOValue: "100", PartnerValue: "105", Delta: &delta, Threshold: &threshold},
				{BOColumn: "ccy", PartnerColumn: "ccy", Kind: models.CompareKindText, BOValue: "EUR", PartnerValue: "USD"},
			},
		}},
		BOOnly:       []models.MatchEntry{{Key: "K2", Outcome: models.OutcomeBOOnly, BO: bo, Resolved: true}},
		PartnerOnly:  []models.MatchEntry{},
		Unparseable:  []models.UnparseableRecord{{Side: models.SidePartner, Row: 4, Column: "ref", Reason: "empty key"}},
		TotalBO:      3,
		TotalPartner: 3,
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleResult(), Options{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetMismatched, SheetBOOnly, SheetPartnerOnly, SheetUnparseable}, f.GetSheetList())

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"Matched", "1"}, summary[3])
	assert.Equal(t, []string{"Resolved", "1"}, summary[10])

	mismatched, err := f.GetRows(SheetMismatched)
	require.NoError(t, err)
	require.Len(t, mismatched, 3, "header plus one row per differing column")
	assert.Equal(t, []string{"K1", "MISMATCHED", "FALSE", "2", "5", "amt", "amount", "100", "105", "5", "2"}, mismatched[1])
	assert.Equal(t, []string{"K1", "MISMATCHED", "FALSE", "2", "5", "ccy", "ccy", "EUR", "USD"}, mismatched[2][:9])

	boOnly, err := f.GetRows(SheetBOOnly)
	require.NoError(t, err)
	require.Len(t, boOnly, 2)
	assert.Equal(t, []string{"K2", "BO_ONLY", "TRUE", "2"}, boOnly[1][:4])

	partnerOnly, err := f.GetRows(SheetPartnerOnly)
	require.NoError(t, err)
	assert.Len(t, partnerOnly, 1)

	unparseable, err := f.GetRows(SheetUnparseable)
	require.NoError(t, err)
	assert.Equal(t, []string{"PARTNER", "6", "ref", "empty key"}, unparseable[1])
}

func TestSaveAs_IncludeMatched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.xlsx")
	require.NoError(t, SaveAs(path, sampleResult(), Options{IncludeMatched: true}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	matched, err := f.GetRows(SheetMatched)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "K0", matched[1][0])
}
