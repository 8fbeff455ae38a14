// Package export writes reconciliation results as XLSX workbooks for operators.
package export

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// Sheet names, in workbook order.
const (
	SheetSummary     = "Summary"
	SheetMismatched  = "Mismatched"
	SheetBOOnly      = "BO only"
	SheetPartnerOnly = "Partner only"
	SheetUnparseable = "Unparseable"
	SheetMatched     = "Matched"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var entryHeadings = []any{"Key", "Outcome", "Resolved", "BO row", "Partner row", "BO column", "Partner column", "BO value", "Partner value", "Delta", "Threshold"}

type Options struct {
	// IncludeMatched adds a sheet listing every matched key.
	IncludeMatched bool
}

// Write renders result as a workbook to w.
func Write(w io.Writer, result *models.MatchResult, opts Options) error {
	f, err := build(result, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "failed to write workbook")
	}
	return nil
}

// SaveAs renders result as a workbook at path.
func SaveAs(path string, result *models.MatchResult, opts Options) error {
	f, err := build(result, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "failed to save workbook %s", path)
	}
	return nil
}

type entrySheet struct {
	name    string
	entries []models.MatchEntry
}

func build(result *models.MatchResult, opts Options) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to name summary sheet")
	}

	sheets := []entrySheet{
		{SheetMismatched, result.Mismatched},
		{SheetBOOnly, result.BOOnly},
		{SheetPartnerOnly, result.PartnerOnly},
	}
	if opts.IncludeMatched {
		sheets = append(sheets, entrySheet{SheetMatched, result.Matched})
	}

	err := writeSummary(f, result.Summary())
	for _, s := range sheets {
		if err != nil {
			break
		}
		err = writeEntries(f, s.name, s.entries)
	}
	if err == nil {
		err = writeUnparseable(f, result.Unparseable)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, "failed to write row %d of sheet %s", row, sheet)
	}
	return nil
}

func writeSummary(f *excelize.File, s models.ResultSummary) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Total BO", s.TotalBO},
		{"Total partner", s.TotalPartner},
		{"Matched", s.Matched},
		{"Mismatched", s.Mismatched},
		{"BO only", s.BOOnly},
		{"Partner only", s.PartnerOnly},
		{"Active mismatched", s.ActiveMismatched},
		{"Active BO only", s.ActiveBOOnly},
		{"Active partner only", s.ActivePartnerOnly},
		{"Resolved", s.Resolved},
		{"Unparseable", s.Unparseable},
		{"Match rate (%)", s.MatchRate},
	}
	for i, r := range rows {
		if err := setRow(f, SheetSummary, i+1, r); err != nil {
			return err
		}
	}
	return nil
}

// fileRow converts a record index to its row in the source feed, counting the header.
func fileRow(rec *models.SideRecord) any {
	if rec == nil {
		return ""
	}
	return rec.Row + 2
}

// writeEntries writes one row per differing column, or a single row when there is no difference.
func writeEntries(f *excelize.File, sheet string, entries []models.MatchEntry) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return errors.Wrapf(err, "failed to create sheet %s", sheet)
	}
	if err := setRow(f, sheet, 1, entryHeadings); err != nil {
		return err
	}

	row := 2
	for _, e := range entries {
		base := []any{string(e.Key), string(e.Outcome), e.Resolved, fileRow(e.BO), fileRow(e.Partner)}
		if len(e.Differences) == 0 {
			if err := setRow(f, sheet, row, base); err != nil {
				return err
			}
			row++
			continue
		}
		for _, d := range e.Differences {
			values := append(append([]any{}, base...), d.BOColumn, d.PartnerColumn, d.BOValue, d.PartnerValue, "", "")
			if d.Delta != nil {
				values[9] = d.Delta.String()
			}
			if d.Threshold != nil {
				values[10] = d.Threshold.String()
			}
			if err := setRow(f, sheet, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func writeUnparseable(f *excelize.File, records []models.UnparseableRecord) error {
	if _, err := f.NewSheet(SheetUnparseable); err != nil {
		return errors.Wrapf(err, "failed to create sheet %s", SheetUnparseable)
	}
	if err := setRow(f, SheetUnparseable, 1, []any{"Side", "Row", "Column", "Reason"}); err != nil {
		return err
	}
	for i, u := range records {
		if err := setRow(f, SheetUnparseable, i+2, []any{string(u.Side), u.Row + 2, u.Column, u.Reason}); err != nil {
			return err
		}
	}
	return nil
}
