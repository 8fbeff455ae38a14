package models

import (
	"strings"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
)

// Side identifies which feed a record belongs to.
type Side string

const (
	SideBO      Side = "BO"
	SidePartner Side = "PARTNER"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBO:
		return SideBO, nil
	case SidePartner:
		return SidePartner, nil
	default:
		return "", apperrors.NewConfigurationError("side", "unknown side %q", s)
	}
}

// Other returns the opposite feed.
func (s Side) Other() Side {
	if s == SideBO {
		return SidePartner
	}
	return SideBO
}

// FileType declares which feed a model or rule applies to.
type FileType string

const (
	FileTypeBO      FileType = "BO"
	FileTypePartner FileType = "PARTNER"
	FileTypeBoth    FileType = "BOTH"
)

func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToUpper(strings.TrimSpace(s))) {
	case FileTypeBO:
		return FileTypeBO, nil
	case FileTypePartner:
		return FileTypePartner, nil
	case FileTypeBoth:
		return FileTypeBoth, nil
	default:
		return "", apperrors.NewConfigurationError("file_type", "unknown file type %q", s)
	}
}

// AppliesTo reports whether the file type covers the given side. An empty file type means both.
func (f FileType) AppliesTo(side Side) bool {
	switch f {
	case FileTypeBoth, "":
		return true
	case FileTypeBO:
		return side == SideBO
	case FileTypePartner:
		return side == SidePartner
	default:
		return false
	}
}

// FormatType describes how a column's value should be interpreted.
type FormatType string

const (
	FormatTypeText    FormatType = "TEXT"
	FormatTypeNumeric FormatType = "NUMERIC"
	FormatTypeAmount  FormatType = "AMOUNT"
	FormatTypeDate    FormatType = "DATE"
)

func ParseFormatType(s string) (FormatType, error) {
	switch FormatType(strings.ToUpper(strings.TrimSpace(s))) {
	case FormatTypeText, "":
		return FormatTypeText, nil
	case FormatTypeNumeric:
		return FormatTypeNumeric, nil
	case FormatTypeAmount:
		return FormatTypeAmount, nil
	case FormatTypeDate:
		return FormatTypeDate, nil
	default:
		return "", apperrors.NewConfigurationError("format_type", "unknown format type %q", s)
	}
}

// CompareKind selects exact or tolerance-based comparison for a column pair.
type CompareKind string

const (
	CompareKindText    CompareKind = "TEXT"
	CompareKindNumeric CompareKind = "NUMERIC"
)

func ParseCompareKind(s string) (CompareKind, error) {
	switch CompareKind(strings.ToUpper(strings.TrimSpace(s))) {
	case CompareKindText, "":
		return CompareKindText, nil
	case CompareKindNumeric:
		return CompareKindNumeric, nil
	default:
		return "", apperrors.NewConfigurationError("kind", "unknown compare kind %q", s)
	}
}
