package loader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		delimiter rune
		expected  []models.RawRecord
	}{
		{
			name:  "comma",
			input: "ref,amount\nR1,10.00\nR2,5\n",
			expected: []models.RawRecord{
				{"ref": "R1", "amount": "10.00"},
				{"ref": "R2", "amount": "5"},
			},
		},
		{
			name:     "semicolon sniffed",
			input:    "ref;amount\nR1;10,50\n",
			expected: []models.RawRecord{{"ref": "R1", "amount": "10,50"}},
		},
		{
			name:      "explicit tab",
			input:     "ref\tamount\nR1\t3\n",
			delimiter: '\t',
			expected:  []models.RawRecord{{"ref": "R1", "amount": "3"}},
		},
		{
			name:     "bom and padded header",
			input:    "\ufeff ref , amount\nR1,1\n",
			expected: []models.RawRecord{{"ref": "R1", "amount": "1"}},
		},
		{
			name:     "short rows padded and blank rows skipped",
			input:    "ref,amount,currency\nR1,1\n,,\nR2,2,EUR\n",
			expected: []models.RawRecord{{"ref": "R1", "amount": "1", "currency": ""}, {"ref": "R2", "amount": "2", "currency": "EUR"}},
		},
		{
			name:     "header only",
			input:    "ref,amount\n",
			expected: []models.RawRecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ReadCSV(strings.NewReader(tt.input), models.SideBO, tt.delimiter)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, records)
		})
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{name: "empty", input: "", contains: "no header"},
		{name: "duplicate header", input: "ref,ref\nR1,R2\n", contains: "duplicate header"},
		{name: "empty header cell", input: "ref,,amount\nR1,x,1\n", contains: "header cell 2 is empty"},
		{name: "extra cells", input: "ref,amount\nR1,1,surplus\n", contains: "row 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input), models.SidePartner, 0)
			require.Error(t, err)
			assert.True(t, apperrors.IsInputError(err))
			assert.Contains(t, err.Error(), tt.contains)
			assert.Contains(t, err.Error(), "side 'PARTNER'")
		})
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"ref", "amount", ""}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"R1", "10.00"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"R2", "7"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	records, err := ReadXLSX(&buf, models.SidePartner, "")
	require.NoError(t, err)
	assert.Equal(t, []models.RawRecord{
		{"ref": "R1", "amount": "10.00"},
		{"ref": "R2", "amount": "7"},
	}, records)
}

func TestFileLoader_Load(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bo.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("ref,amount\nR1,1\n"), 0o600))

	l := NewFileLoader(testLogger(), Options{})
	records, err := l.Load(context.Background(), models.SideBO, csvPath)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = l.Load(context.Background(), models.SideBO, filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	jsonPath := filepath.Join(dir, "bo.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))
	_, err = l.Load(context.Background(), models.SideBO, jsonPath)
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestParseModel(t *testing.T) {
	model, err := ParseModel([]byte(`
name: card-settlement
key_columns: [ref]
owner_column: owner
compare_pairs:
  - bo_column: amount
    partner_column: settled_amount
    kind: NUMERIC
rules:
  - source_column: ref
    trim_spaces: true
    to_upper_case: true
    order: 1
  - source_column: amount
    pad_zeros: true
    width: 10
    applies_to: PARTNER
    order: 2
`))
	require.NoError(t, err)
	assert.Equal(t, "card-settlement", model.Name)
	assert.Equal(t, []string{"ref"}, model.KeyColumns)
	assert.Equal(t, models.CompareKindNumeric, model.ComparePairs[0].Kind)
	assert.Equal(t, models.FileTypePartner, model.Rules[1].AppliesTo)

	_, err = ParseModel([]byte("name: no-keys\n"))
	assert.True(t, apperrors.IsConfigurationError(err))

	_, err = ParseModel([]byte("name: [unclosed"))
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestParseThresholds(t *testing.T) {
	thresholds, err := ParseThresholds([]byte(`
thresholds:
  - owner_code: ACME
    operation_type: PAYMENT
    amount: 0.05
  - owner_code: "*"
    operation_type: "*"
    amount: "1"
`))
	require.NoError(t, err)
	require.Len(t, thresholds, 2)
	assert.Equal(t, "0.05", thresholds[0].Amount.String())
	assert.Equal(t, "*", thresholds[1].OwnerCode)

	_, err = ParseThresholds([]byte("thresholds:\n  - owner_code: A\n    operation_type: B\n    amount: lots\n"))
	assert.True(t, apperrors.IsConfigurationError(err))
}
