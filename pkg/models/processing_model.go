package models

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/database"
	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ColumnRule is one step of the normalization pipeline for a single column.
type ColumnRule struct {
	SourceColumn string     `json:"source_column" yaml:"source_column" validate:"required"`
	TargetColumn string     `json:"target_column,omitempty" yaml:"target_column,omitempty"`
	FormatType   FormatType `json:"format_type,omitempty" yaml:"format_type,omitempty" validate:"omitempty,oneof=TEXT NUMERIC AMOUNT DATE"`
	// Width is the zero-padding width. Zero disables padding.
	Width     int      `json:"width,omitempty" yaml:"width,omitempty" validate:"gte=0"`
	AppliesTo FileType `json:"applies_to,omitempty" yaml:"applies_to,omitempty" validate:"omitempty,oneof=BO PARTNER BOTH"`

	ToUpperCase        bool `json:"to_upper_case,omitempty" yaml:"to_upper_case,omitempty"`
	ToLowerCase        bool `json:"to_lower_case,omitempty" yaml:"to_lower_case,omitempty"`
	TrimSpaces         bool `json:"trim_spaces,omitempty" yaml:"trim_spaces,omitempty"`
	RemoveSpecialChars bool `json:"remove_special_chars,omitempty" yaml:"remove_special_chars,omitempty"`
	RemoveAccents      bool `json:"remove_accents,omitempty" yaml:"remove_accents,omitempty"`
	PadZeros           bool `json:"pad_zeros,omitempty" yaml:"pad_zeros,omitempty"`

	RegexPattern            string            `json:"regex_pattern,omitempty" yaml:"regex_pattern,omitempty"`
	RegexReplacement        string            `json:"regex_replacement,omitempty" yaml:"regex_replacement,omitempty"`
	SpecialCharReplacements map[string]string `json:"special_char_replacements,omitempty" yaml:"special_char_replacements,omitempty"`

	Order int `json:"order" yaml:"order"`
}

// Target returns the canonical column the rule writes to.
func (r ColumnRule) Target() string {
	if r.TargetColumn == "" {
		return r.SourceColumn
	}
	return r.TargetColumn
}

// ComparePair declares a BO column that must agree with a partner column.
type ComparePair struct {
	BOColumn      string      `json:"bo_column" yaml:"bo_column" validate:"required"`
	PartnerColumn string      `json:"partner_column" yaml:"partner_column" validate:"required"`
	Kind          CompareKind `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=TEXT NUMERIC"`
}

// ProcessingModel is the reconciliation configuration snapshotted onto every job.
type ProcessingModel struct {
	ID       uuid.UUID `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name" validate:"required"`
	FileType FileType  `json:"file_type" yaml:"file_type" validate:"omitempty,oneof=BO PARTNER BOTH"`
	// KeyColumns are canonical column names, present on both sides after normalization.
	KeyColumns   []string      `json:"key_columns" yaml:"key_columns" validate:"min=1,dive,required"`
	ComparePairs []ComparePair `json:"compare_pairs" yaml:"compare_pairs" validate:"dive"`
	Rules        []ColumnRule  `json:"rules" yaml:"rules" validate:"dive"`
	// OwnerColumn and OperationTypeColumn select the threshold row for numeric comparisons.
	OwnerColumn         string `json:"owner_column,omitempty" yaml:"owner_column,omitempty"`
	OperationTypeColumn string `json:"operation_type_column,omitempty" yaml:"operation_type_column,omitempty"`
}

// Validate checks the model structurally and semantically. Failures are ConfigurationErrors.
func (m *ProcessingModel) Validate() error {
	if m == nil {
		return apperrors.NewConfigurationError("", "processing model is required")
	}

	if err := validate.Struct(m); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewConfigurationError(fe.Namespace(), "rule '%s' failed (param '%s', got '%v')", fe.Tag(), fe.Param(), fe.Value())
		}
		return apperrors.NewConfigurationError("", "%s", err.Error())
	}

	for i, rule := range m.Rules {
		if rule.RegexPattern == "" {
			continue
		}
		if _, err := regexp.Compile(rule.RegexPattern); err != nil {
			return apperrors.NewConfigurationError(fmt.Sprintf("rules[%d].regex_pattern", i), "invalid pattern: %s", err.Error())
		}
	}

	return nil
}

// OrderedRules returns the rules sorted by Order, ties kept in declaration order.
func (m *ProcessingModel) OrderedRules() []ColumnRule {
	rules := make([]ColumnRule, len(m.Rules))
	copy(rules, m.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Order < rules[j].Order
	})
	return rules
}

// RulesFor returns the ordered rules applicable to one side.
func (m *ProcessingModel) RulesFor(side Side) []ColumnRule {
	if !m.FileType.AppliesTo(side) {
		return nil
	}
	ordered := m.OrderedRules()
	rules := make([]ColumnRule, 0, len(ordered))
	for _, r := range ordered {
		if r.AppliesTo.AppliesTo(side) {
			rules = append(rules, r)
		}
	}
	return rules
}

// StoredProcessingModel is the persisted form of a model. Jobs copy Definition at submit time.
type StoredProcessingModel struct {
	ID         uuid.UUID                       `db:"id" json:"id"`
	Name       string                          `db:"name" json:"name"`
	Definition database.JSONB[ProcessingModel] `db:"definition" json:"definition"`
	CreatedAt  time.Time                       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time                       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (StoredProcessingModel) TableName() string {
	return "processing_models"
}

// Model returns the definition with the stored identity applied.
func (s StoredProcessingModel) Model() ProcessingModel {
	m := s.Definition.GetValue()
	m.ID = s.ID
	m.Name = s.Name
	return m
}
