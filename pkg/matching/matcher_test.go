package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/statusstore"
	"github.com/Ramsey-B/balsam/pkg/tolerance"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func amountModel() *models.ProcessingModel {
	return &models.ProcessingModel{
		Name:         "amounts",
		KeyColumns:   []string{"id"},
		ComparePairs: []models.ComparePair{{BOColumn: "amt", PartnerColumn: "amt", Kind: models.CompareKindNumeric}},
	}
}

func side(s models.Side, rows ...map[string]string) []models.SideRecord {
	out := make([]models.SideRecord, len(rows))
	for i, r := range rows {
		out[i] = models.SideRecord{Side: s, Row: i, Record: models.NewCanonicalRecord(r)}
	}
	return out
}

func match(t *testing.T, bo, partner []models.SideRecord, model *models.ProcessingModel, thresholds tolerance.Resolver, statuses statusstore.Reader) *models.MatchResult {
	t.Helper()
	result, err := NewMatcher(DefaultConfig(), testLogger()).Match(context.Background(), bo, partner, model, thresholds, statuses)
	require.NoError(t, err)
	return result
}

func counts(r *models.MatchResult) [5]int {
	return [5]int{len(r.Matched), len(r.Mismatched), len(r.BOOnly), len(r.PartnerOnly), len(r.Unparseable)}
}

func TestMatch_IdenticalRecordsMatch(t *testing.T) {
	bo := side(models.SideBO, map[string]string{"id": "1", "amt": "100"})
	partner := side(models.SidePartner, map[string]string{"id": "1", "amt": "100"})

	result := match(t, bo, partner, amountModel(), tolerance.Fixed(decimal.Zero), nil)
	assert.Equal(t, [5]int{1, 0, 0, 0, 0}, counts(result))
	assert.Equal(t, models.OutcomeMatched, result.Matched[0].Outcome)
}

func TestMatch_Tolerance(t *testing.T) {
	bo := side(models.SideBO, map[string]string{"id": "1", "amt": "100"})
	partner := side(models.SidePartner, map[string]string{"id": "1", "amt": "105"})

	within := match(t, bo, partner, amountModel(), tolerance.Fixed(decimal.NewFromInt(10)), nil)
	assert.Equal(t, [5]int{1, 0, 0, 0, 0}, counts(within))

	beyond := match(t, bo, partner, amountModel(), tolerance.Fixed(decimal.NewFromInt(2)), nil)
	require.Equal(t, [5]int{0, 1, 0, 0, 0}, counts(beyond))

	diffs := beyond.Mismatched[0].Differences
	require.Len(t, diffs, 1)
	assert.Equal(t, "amt", diffs[0].BOColumn)
	require.NotNil(t, diffs[0].Delta)
	assert.True(t, decimal.NewFromInt(5).Equal(*diffs[0].Delta))
	require.NotNil(t, diffs[0].Threshold)
	assert.True(t, decimal.NewFromInt(2).Equal(*diffs[0].Threshold))
}

func TestMatch_BOOnly(t *testing.T) {
	bo := side(models.SideBO, map[string]string{"id": "1"})

	result := match(t, bo, nil, amountModel(), nil, nil)
	assert.Equal(t, [5]int{0, 0, 1, 0, 0}, counts(result))
	assert.Equal(t, models.OutcomeBOOnly, result.BOOnly[0].Outcome)
	assert.Nil(t, result.BOOnly[0].Partner)
}

func TestMatch_DuplicateKeysPairInFeedOrder(t *testing.T) {
	bo := side(models.SideBO,
		map[string]string{"id": "1", "amt": "10"},
		map[string]string{"id": "1", "amt": "20"},
		map[string]string{"id": "1", "amt": "30"},
	)
	partner := side(models.SidePartner,
		map[string]string{"id": "1", "amt": "10"},
		map[string]string{"id": "1", "amt": "25"},
	)

	result := match(t, bo, partner, amountModel(), nil, nil)
	assert.Equal(t, [5]int{1, 1, 1, 0, 0}, counts(result))
	assert.Equal(t, 0, result.Matched[0].BO.Row)
	assert.Equal(t, 1, result.Mismatched[0].BO.Row)
	assert.Equal(t, 1, result.Mismatched[0].Partner.Row)
	assert.Equal(t, 2, result.BOOnly[0].BO.Row, "surplus BO record is one-sided")
}

func TestMatch_AllComparePairsMustAgree(t *testing.T) {
	model := amountModel()
	model.ComparePairs = append(model.ComparePairs, models.ComparePair{BOColumn: "ccy", PartnerColumn: "currency", Kind: models.CompareKindText})

	bo := side(models.SideBO, map[string]string{"id": "1", "amt": "100", "ccy": "XOF"})
	partner := side(models.SidePartner, map[string]string{"id": "1", "amt": "100", "currency": "EUR"})

	result := match(t, bo, partner, model, nil, nil)
	require.Len(t, result.Mismatched, 1)
	diffs := result.Mismatched[0].Differences
	require.Len(t, diffs, 1)
	assert.Equal(t, "currency", diffs[0].PartnerColumn)
	assert.Nil(t, diffs[0].Delta)
	assert.Nil(t, diffs[0].Threshold)
}

func TestMatch_UnparseableRecordsAreReported(t *testing.T) {
	bo := side(models.SideBO,
		map[string]string{"id": "1", "amt": "1"},
		map[string]string{"amt": "2"},
	)
	partner := side(models.SidePartner, map[string]string{"id": "1", "amt": "1"})

	result := match(t, bo, partner, amountModel(), nil, nil)
	assert.Equal(t, [5]int{1, 0, 0, 0, 1}, counts(result))

	u := result.Unparseable[0]
	assert.Equal(t, models.SideBO, u.Side)
	assert.Equal(t, 1, u.Row)
	assert.Equal(t, "id", u.Column)
	assert.Contains(t, u.Reason, "row 1")
	assert.Equal(t, 2, result.TotalBO)
}

func TestMatch_ThresholdResolvedPerOwnerAndOperation(t *testing.T) {
	model := amountModel()
	model.OwnerColumn = "owner"
	model.OperationTypeColumn = "op"

	table, err := tolerance.NewTable([]models.Threshold{
		{OwnerCode: "AG1", OperationType: "CASH_IN", Amount: decimal.NewFromInt(10)},
	}, testLogger())
	require.NoError(t, err)

	bo := side(models.SideBO,
		map[string]string{"id": "1", "amt": "100", "owner": "AG1", "op": "CASH_IN"},
		map[string]string{"id": "2", "amt": "100", "owner": "AG2", "op": "CASH_IN"},
	)
	partner := side(models.SidePartner,
		map[string]string{"id": "1", "amt": "105"},
		map[string]string{"id": "2", "amt": "105"},
	)

	result := match(t, bo, partner, model, table, nil)
	require.Len(t, result.Matched, 1)
	assert.Equal(t, models.ReconciliationKey("1"), result.Matched[0].Key)
	require.Len(t, result.Mismatched, 1)
	assert.Equal(t, models.ReconciliationKey("2"), result.Mismatched[0].Key, "missing threshold means exact match")
}

func TestMatch_KeySymmetry(t *testing.T) {
	bo := side(models.SideBO,
		map[string]string{"id": "1", "amt": "1"},
		map[string]string{"id": "2", "amt": "2"},
		map[string]string{"id": "3", "amt": "3"},
		map[string]string{"id": "3", "amt": "3"},
	)
	partner := side(models.SidePartner,
		map[string]string{"id": "1", "amt": "1"},
		map[string]string{"id": "2", "amt": "9"},
		map[string]string{"id": "4", "amt": "4"},
	)

	forward := match(t, bo, partner, amountModel(), nil, nil)
	swapped := match(t, partner, bo, amountModel(), nil, nil)

	assert.Equal(t, len(forward.Matched), len(swapped.Matched))
	assert.Equal(t, len(forward.Mismatched), len(swapped.Mismatched))
	assert.Equal(t, len(forward.BOOnly), len(swapped.PartnerOnly))
	assert.Equal(t, len(forward.PartnerOnly), len(swapped.BOOnly))
}

func TestMatch_DeterministicRegardlessOfInputOrder(t *testing.T) {
	var boRows, partnerRows []map[string]string
	for i := 0; i < 40; i++ {
		boRows = append(boRows, map[string]string{"id": fmt.Sprint(i), "amt": fmt.Sprint(i)})
		if i%3 != 0 {
			partnerRows = append(partnerRows, map[string]string{"id": fmt.Sprint(i), "amt": fmt.Sprint(i + i%2)})
		}
	}
	reversed := make([]map[string]string, len(boRows))
	for i := range boRows {
		reversed[len(boRows)-1-i] = boRows[i]
	}

	a := match(t, side(models.SideBO, boRows...), side(models.SidePartner, partnerRows...), amountModel(), nil, nil)
	b := match(t, side(models.SideBO, reversed...), side(models.SidePartner, partnerRows...), amountModel(), nil, nil)

	keysOf := func(entries []models.MatchEntry) []models.ReconciliationKey {
		out := make([]models.ReconciliationKey, len(entries))
		for i, e := range entries {
			out[i] = e.Key
		}
		return out
	}
	assert.Equal(t, keysOf(a.Matched), keysOf(b.Matched))
	assert.Equal(t, keysOf(a.Mismatched), keysOf(b.Mismatched))
	assert.Equal(t, keysOf(a.BOOnly), keysOf(b.BOOnly))
}

func TestMatch_ResolvedKeysAreSuppressed(t *testing.T) {
	ctx := context.Background()
	store := statusstore.NewMemoryStore()
	_, err := store.Upsert(ctx, "7", models.KeyStatusOK, "ops")
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "8", models.KeyStatusKO, "ops")
	require.NoError(t, err)

	bo := side(models.SideBO,
		map[string]string{"id": "7", "amt": "1"},
		map[string]string{"id": "8", "amt": "1"},
	)

	result := match(t, bo, nil, amountModel(), nil, store)
	require.Len(t, result.BOOnly, 2)
	assert.True(t, result.BOOnly[0].Resolved, "OK key is resolved")
	assert.False(t, result.BOOnly[1].Resolved, "KO key stays active")

	summary := result.Summary()
	assert.Equal(t, 2, summary.BOOnly)
	assert.Equal(t, 1, summary.ActiveBOOnly)
	assert.Equal(t, 1, summary.Resolved)
}

type failingReader struct{}

func (failingReader) BulkGet(context.Context, []models.ReconciliationKey) (map[models.ReconciliationKey]models.KeyStatus, error) {
	return nil, fmt.Errorf("status store unavailable")
}

func TestMatch_StatusStoreFailureAbortsMatching(t *testing.T) {
	bo := side(models.SideBO, map[string]string{"id": "1"})
	_, err := NewMatcher(DefaultConfig(), testLogger()).Match(context.Background(), bo, nil, amountModel(), nil, failingReader{})
	assert.ErrorContains(t, err, "status store unavailable")
}

func TestMatch_CancellationAndProgress(t *testing.T) {
	var rows []map[string]string
	for i := 0; i < 10; i++ {
		rows = append(rows, map[string]string{"id": fmt.Sprint(i), "amt": "1"})
	}

	var percents []int
	m := NewMatcher(Config{BucketCheckEvery: 4, Progress: func(p int) { percents = append(percents, p) }}, testLogger())
	_, err := m.Match(context.Background(), side(models.SideBO, rows...), side(models.SidePartner, rows...), amountModel(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 40, 80, 100}, percents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := m.Match(ctx, side(models.SideBO, rows...), nil, amountModel(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result, "no partial classification on cancel")
}

func TestMatch_CheckpointStopsMatch(t *testing.T) {
	var rows []map[string]string
	for i := 0; i < 10; i++ {
		rows = append(rows, map[string]string{"id": fmt.Sprint(i), "amt": "1"})
	}
	stop := errors.New("stop requested")

	tests := []struct {
		name      string
		failOn    int
		wantErr   error
		wantCalls int
	}{
		{name: "every check passes", failOn: 0, wantCalls: 4},
		{name: "first bucket check", failOn: 1, wantErr: stop, wantCalls: 1},
		{name: "check before resolutions", failOn: 4, wantErr: stop, wantCalls: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			m := NewMatcher(Config{BucketCheckEvery: 4, Checkpoint: func(context.Context) error {
				calls++
				if calls == tt.failOn {
					return stop
				}
				return nil
			}}, testLogger())

			result, err := m.Match(context.Background(), side(models.SideBO, rows...), side(models.SidePartner, rows...), amountModel(), nil, nil)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.Len(t, result.Matched, 10)
		})
	}
}
