// Package normalizer turns raw feed rows into canonical records by applying
// the ordered column rules of a processing model.
package normalizer

import (
	"context"
	"sort"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// DefaultChunkSize is how many records are normalized between cancellation checks.
const DefaultChunkSize = 500

type compiledRule struct {
	source string
	target string
	steps  []Step
}

// compile fixes the transform sub-order for a rule:
// trim, case fold (upper wins), special map, accents, special chars, zero pad, regex.
func compile(rule models.ColumnRule) compiledRule {
	var steps []Step
	add := func(s Step) {
		if s != nil {
			steps = append(steps, s)
		}
	}

	if rule.TrimSpaces {
		add(Trim)
	}
	switch {
	case rule.ToUpperCase:
		add(Uppercase)
	case rule.ToLowerCase:
		add(Lowercase)
	}
	add(ReplaceSpecialChars(rule.SpecialCharReplacements))
	if rule.RemoveAccents {
		add(StripAccents)
	}
	if rule.RemoveSpecialChars {
		add(RemoveSpecialChars)
	}
	if rule.PadZeros {
		add(PadZeros(rule.Width))
	}
	add(RegexReplaceFirst(rule.RegexPattern, rule.RegexReplacement))

	return compiledRule{source: rule.SourceColumn, target: rule.Target(), steps: steps}
}

// Normalizer applies a fixed rule list. It is safe for concurrent use.
type Normalizer struct {
	rules      []compiledRule
	chunkSize  int
	checkpoint func(ctx context.Context) error
}

type Option func(*Normalizer)

func WithChunkSize(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.chunkSize = n
		}
	}
}

// WithCheckpoint adds a check run at every chunk boundary. A non-nil error stops ApplyAll.
func WithCheckpoint(fn func(ctx context.Context) error) Option {
	return func(nz *Normalizer) {
		nz.checkpoint = fn
	}
}

func (nz *Normalizer) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if nz.checkpoint != nil {
		return nz.checkpoint(ctx)
	}
	return nil
}

// New compiles rules in ascending Order, ties kept in the given order.
func New(rules []models.ColumnRule, opts ...Option) *Normalizer {
	ordered := make([]models.ColumnRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	nz := &Normalizer{
		rules:     make([]compiledRule, 0, len(ordered)),
		chunkSize: DefaultChunkSize,
	}
	for _, r := range ordered {
		nz.rules = append(nz.rules, compile(r))
	}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// ForSide builds a normalizer from the rules of model that apply to side.
func ForSide(model *models.ProcessingModel, side models.Side, opts ...Option) *Normalizer {
	return New(model.RulesFor(side), opts...)
}

// Normalize is the one-shot form of New(rules).Apply(raw).
func Normalize(raw models.RawRecord, rules []models.ColumnRule) models.CanonicalRecord {
	return New(rules).Apply(raw)
}

// Apply builds the canonical record for raw. Columns without a rule pass through unchanged.
// Each rule reads its source from the raw row, so renames do not feed into later rules.
func (nz *Normalizer) Apply(raw models.RawRecord) models.CanonicalRecord {
	out := make(map[string]string, len(raw)+len(nz.rules))
	for k, v := range raw {
		out[k] = v
	}

	for _, rule := range nz.rules {
		value := raw[rule.source]
		for _, step := range rule.steps {
			value = step(value)
		}
		out[rule.target] = value
	}

	return models.NewCanonicalRecord(out)
}

// ApplyAll normalizes a feed, checking ctx and the checkpoint every chunk. progress, when set,
// receives the number of records done after each chunk. A failed check discards the partial output.
func (nz *Normalizer) ApplyAll(ctx context.Context, side models.Side, raws []models.RawRecord, progress func(done int)) ([]models.SideRecord, error) {
	out := make([]models.SideRecord, 0, len(raws))
	for i, raw := range raws {
		if i%nz.chunkSize == 0 {
			if err := nz.check(ctx); err != nil {
				return nil, err
			}
			if progress != nil && i > 0 {
				progress(i)
			}
		}
		out = append(out, models.SideRecord{Side: side, Row: i, Record: nz.Apply(raw)})
	}
	if err := nz.check(ctx); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(len(raws))
	}
	return out, nil
}
