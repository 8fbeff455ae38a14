// Package loader reads BO and partner feeds into raw records.
//
// The first row of a feed is its header. Row numbers in errors are file rows,
// so the first data row is row 2.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const utf8BOM = "\ufeff"

// Source yields the raw records of one side of a run.
type Source interface {
	Load(ctx context.Context, side models.Side, path string) ([]models.RawRecord, error)
}

type Options struct {
	// Delimiter for CSV feeds. Zero sniffs the header line for ';', tab or ','.
	Delimiter rune
	// Sheet for XLSX feeds. Empty reads the first sheet.
	Sheet string
}

// FileLoader reads CSV and XLSX feeds from the local filesystem.
type FileLoader struct {
	opts   Options
	logger ectologger.Logger
}

func NewFileLoader(logger ectologger.Logger, opts Options) *FileLoader {
	return &FileLoader{opts: opts, logger: logger}
}

func (l *FileLoader) Load(ctx context.Context, side models.Side, path string) ([]models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "loader.FileLoader.Load")
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s feed %s", side, path)
	}
	defer f.Close()

	var records []models.RawRecord
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		records, err = ReadXLSX(f, side, l.opts.Sheet)
	case ".csv", ".txt", "":
		records, err = ReadCSV(f, side, l.opts.Delimiter)
	default:
		return nil, apperrors.NewConfigurationError("file_path", "unsupported feed extension %q", ext)
	}
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"side": side,
			"path": path,
		}).Error("Failed to read feed")
		return nil, err
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"side":    side,
		"path":    path,
		"records": len(records),
	}).Info("Loaded feed")
	return records, nil
}

// ReadCSV reads a delimited feed. A zero delimiter is sniffed from the header line.
func ReadCSV(r io.Reader, side models.Side, delimiter rune) ([]models.RawRecord, error) {
	br := bufio.NewReader(r)
	if delimiter == 0 {
		delimiter = sniffDelimiter(br)
	}

	reader := csv.NewReader(br)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, apperrors.NewInputError(string(side), parseErr.Line, "", parseErr.Err.Error())
		}
		return nil, errors.Wrap(err, "could not read csv")
	}
	return toRecords(side, rows)
}

func sniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(4096)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(candidate))); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

// ReadXLSX reads one sheet of a workbook. An empty sheet name reads the first sheet.
func ReadXLSX(r io.Reader, side models.Side, sheet string) ([]models.RawRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not open workbook")
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.NewInputError(string(side), -1, "", "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read sheet %s", sheet)
	}
	return toRecords(side, rows)
}

func toRecords(side models.Side, rows [][]string) ([]models.RawRecord, error) {
	if len(rows) == 0 {
		return nil, apperrors.NewInputError(string(side), 1, "", "feed has no header row")
	}

	header, err := parseHeader(side, rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]models.RawRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		for j := len(header); j < len(row); j++ {
			if strings.TrimSpace(row[j]) != "" {
				return nil, apperrors.NewInputError(string(side), i+2, "", fmt.Sprintf("row has %d cells but the header has %d", len(row), len(header)))
			}
		}

		rec := make(models.RawRecord, len(header))
		for j, col := range header {
			if j < len(row) {
				rec[col] = row[j]
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseHeader(side models.Side, row []string) ([]string, error) {
	// trailing empty header cells are common in spreadsheet exports
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}

	header := make([]string, end)
	seen := make(map[string]struct{}, end)
	for i := 0; i < end; i++ {
		name := strings.TrimSpace(row[i])
		if i == 0 {
			name = strings.TrimSpace(strings.TrimPrefix(name, utf8BOM))
		}
		if name == "" {
			return nil, apperrors.NewInputError(string(side), 1, "", fmt.Sprintf("header cell %d is empty", i+1))
		}
		if _, dup := seen[name]; dup {
			return nil, apperrors.NewInputError(string(side), 1, name, "duplicate header")
		}
		seen[name] = struct{}{}
		header[i] = name
	}
	if len(header) == 0 {
		return nil, apperrors.NewInputError(string(side), 1, "", "feed has no header row")
	}
	return header, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
