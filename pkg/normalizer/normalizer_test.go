package normalizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/balsam/pkg/models"
)

func TestSteps(t *testing.T) {
	tests := []struct {
		name     string
		step     Step
		input    string
		expected string
	}{
		{"trim", Trim, "  abc \t", "abc"},
		{"upper", Uppercase, "abc", "ABC"},
		{"lower", Lowercase, "ABC", "abc"},
		{"accents", StripAccents, "Émile Zoë ça", "Emile Zoe ca"},
		{"special chars drop punctuation", RemoveSpecialChars, "A-1/2b_c#", "A12bc"},
		{"special chars drop whitespace", RemoveSpecialChars, "AB 12\t3\u00a0x", "AB123x"},
		{"special chars keep letters", RemoveSpecialChars, "Déjà-vu", "Déjàvu"},
		{"pad integer", PadZeros(6), "123", "000123"},
		{"pad negative", PadZeros(6), "-12", "-00012"},
		{"pad decimal", PadZeros(6), "1.5", "0001.5"},
		{"pad non numeric", PadZeros(6), "12A", "12A"},
		{"pad exponent left alone", PadZeros(5), "1e5", "1e5"},
		{"pad signed exponent left alone", PadZeros(8), "-1.5E+2", "-1.5E+2"},
		{"pad bare sign", PadZeros(4), "-", "-"},
		{"pad trailing dot", PadZeros(4), "12.", "12."},
		{"pad plus sign", PadZeros(5), "+42", "+0042"},
		{"pad already wide", PadZeros(2), "12345", "12345"},
		{"pad empty", PadZeros(3), "", ""},
		{"regex first only", RegexReplaceFirst(`\d`, "#"), "a1b2", "a#b2"},
		{"regex groups", RegexReplaceFirst(`^(\w+)-(\w+)$`, "$2-$1"), "left-right", "right-left"},
		{"regex no match", RegexReplaceFirst(`z`, "y"), "abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.step)
			assert.Equal(t, tt.expected, tt.step(tt.input))
		})
	}
}

func TestStepConstructorsReturnNilWhenDisabled(t *testing.T) {
	assert.Nil(t, PadZeros(0))
	assert.Nil(t, RegexReplaceFirst("", "x"))
	assert.Nil(t, RegexReplaceFirst("([", "x"))
	assert.Nil(t, ReplaceSpecialChars(nil))
	assert.Nil(t, ReplaceSpecialChars(map[string]string{"": "x"}))
}

func TestReplaceSpecialCharsIsSinglePassAndLongestFirst(t *testing.T) {
	step := ReplaceSpecialChars(map[string]string{
		"&":  "and",
		"&&": "AND",
		"a":  "b",
		"ñ":  "n",
	})
	// "a" produced by "and" must not be rewritten again.
	assert.Equal(t, "x and y AND nb", step("x & y && ña"))
}

func TestApplyFixedSubOrder(t *testing.T) {
	rule := models.ColumnRule{
		SourceColumn:            "name",
		TargetColumn:            "NAME",
		TrimSpaces:              true,
		ToUpperCase:             true,
		ToLowerCase:             true,
		SpecialCharReplacements: map[string]string{"É": "E_"},
		RemoveAccents:           true,
		RemoveSpecialChars:      true,
		RegexPattern:            `^(\w)`,
		RegexReplacement:        "[$1]",
	}

	rec := Normalize(models.RawRecord{"name": "  éric-ça "}, []models.ColumnRule{rule})

	// trim -> upper ("ÉRIC-ÇA") -> map ("E_RIC-ÇA") -> accents ("E_RIC-CA")
	// -> special chars ("ERICCA") -> regex.
	assert.Equal(t, "[E]RICCA", rec.Get("NAME"))
	assert.Equal(t, "  éric-ça ", rec.Get("name"), "raw columns pass through")
}

func TestApplyPadsAfterCleaning(t *testing.T) {
	rule := models.ColumnRule{SourceColumn: "ref", RemoveSpecialChars: true, PadZeros: true, Width: 8}
	rec := Normalize(models.RawRecord{"ref": "12-34"}, []models.ColumnRule{rule})
	assert.Equal(t, "00001234", rec.Get("ref"))
}

func TestApplyMissingSourceIsEmpty(t *testing.T) {
	rule := models.ColumnRule{SourceColumn: "missing", TargetColumn: "out", PadZeros: true, Width: 3}
	rec := Normalize(models.RawRecord{"id": "1"}, []models.ColumnRule{rule})

	v, ok := rec.Lookup("out")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestApplyOrdersRulesStably(t *testing.T) {
	rules := []models.ColumnRule{
		{SourceColumn: "a", TargetColumn: "out", ToUpperCase: true, Order: 2},
		{SourceColumn: "b", TargetColumn: "out", Order: 1},
		{SourceColumn: "c", TargetColumn: "out", ToLowerCase: true, Order: 1},
	}
	rec := Normalize(models.RawRecord{"a": "x", "b": "y", "c": "Z"}, rules)
	// order 1 rules run b then c, order 2 runs last.
	assert.Equal(t, "X", rec.Get("out"))

	rules[0].Order = 0
	rec = Normalize(models.RawRecord{"a": "x", "b": "y", "c": "Z"}, rules)
	assert.Equal(t, "z", rec.Get("out"))
}

func TestApplyIsDeterministic(t *testing.T) {
	rules := []models.ColumnRule{
		{SourceColumn: "v", TrimSpaces: true, SpecialCharReplacements: map[string]string{"-": "", ".": "", "/": ""}, RemoveAccents: true},
	}
	nz := New(rules)
	raw := models.RawRecord{"v": " à-b.c/d "}

	first := nz.Apply(raw)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first.Map(), nz.Apply(raw).Map())
	}
}

func TestApplyAll(t *testing.T) {
	raws := make([]models.RawRecord, 7)
	for i := range raws {
		raws[i] = models.RawRecord{"id": " x "}
	}
	nz := New([]models.ColumnRule{{SourceColumn: "id", TrimSpaces: true}}, WithChunkSize(3))

	var ticks []int
	out, err := nz.ApplyAll(context.Background(), models.SidePartner, raws, func(done int) { ticks = append(ticks, done) })
	require.NoError(t, err)
	require.Len(t, out, 7)
	assert.Equal(t, []int{3, 6, 7}, ticks)
	assert.Equal(t, models.SidePartner, out[6].Side)
	assert.Equal(t, 6, out[6].Row)
	assert.Equal(t, "x", out[0].Record.Get("id"))
}

func TestApplyAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := New(nil).ApplyAll(ctx, models.SideBO, []models.RawRecord{{"id": "1"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestApplyAllCheckpoint(t *testing.T) {
	raws := make([]models.RawRecord, 10)
	for i := range raws {
		raws[i] = models.RawRecord{"id": "x"}
	}
	stop := errors.New("stop requested")

	tests := []struct {
		name      string
		failAfter int
		wantErr   error
		wantCalls int
	}{
		{name: "passes every chunk", failAfter: -1, wantCalls: 5},
		{name: "stops at first chunk", failAfter: 0, wantErr: stop, wantCalls: 1},
		{name: "stops mid feed", failAfter: 2, wantErr: stop, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			nz := New(nil, WithChunkSize(3), WithCheckpoint(func(context.Context) error {
				calls++
				if tt.failAfter >= 0 && calls > tt.failAfter {
					return stop
				}
				return nil
			}))

			out, err := nz.ApplyAll(context.Background(), models.SideBO, raws, nil)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			assert.Len(t, out, 10)
		})
	}
}

func TestForSideUsesApplicableRules(t *testing.T) {
	model := &models.ProcessingModel{
		Rules: []models.ColumnRule{
			{SourceColumn: "id", ToUpperCase: true, AppliesTo: models.FileTypeBO},
			{SourceColumn: "id", ToLowerCase: true, AppliesTo: models.FileTypePartner},
		},
	}
	raw := models.RawRecord{"id": "Ab"}
	assert.Equal(t, "AB", ForSide(model, models.SideBO).Apply(raw).Get("id"))
	assert.Equal(t, "ab", ForSide(model, models.SidePartner).Apply(raw).Get("id"))
}
