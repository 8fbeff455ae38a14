// Package matching joins canonical BO and partner records by reconciliation key and
// classifies every record as matched, mismatched or one-sided.
package matching

import (
	"context"
	"errors"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/keys"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/statusstore"
	"github.com/Ramsey-B/balsam/pkg/tolerance"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

// DefaultBucketCheckEvery is how many key buckets are joined between cancellation checks.
const DefaultBucketCheckEvery = 256

// Config holds matcher settings
type Config struct {
	BucketCheckEvery int
	// Progress receives the percentage of key buckets joined so far.
	Progress func(percent int)
	// Checkpoint runs with every cancellation check. A non-nil error stops the match.
	Checkpoint func(ctx context.Context) error
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{BucketCheckEvery: DefaultBucketCheckEvery}
}

type Matcher struct {
	config    Config
	evaluator *tolerance.Evaluator
	logger    ectologger.Logger
}

func NewMatcher(config Config, logger ectologger.Logger) *Matcher {
	if config.BucketCheckEvery <= 0 {
		config.BucketCheckEvery = DefaultBucketCheckEvery
	}
	return &Matcher{
		config:    config,
		evaluator: tolerance.NewEvaluator(),
		logger:    logger,
	}
}

func (m *Matcher) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.config.Checkpoint != nil {
		return m.config.Checkpoint(ctx)
	}
	return nil
}

type index struct {
	buckets map[models.ReconciliationKey][]models.SideRecord
}

func (m *Matcher) buildIndex(records []models.SideRecord, model *models.ProcessingModel, result *models.MatchResult) index {
	idx := index{buckets: make(map[models.ReconciliationKey][]models.SideRecord, len(records))}
	for _, rec := range records {
		key, err := keys.Extract(rec.Record, model)
		if err != nil {
			unparseable := models.UnparseableRecord{
				Side:   rec.Side,
				Row:    rec.Row,
				Reason: err.Error(),
				Record: rec.Record.Map(),
			}
			var keyErr *apperrors.InvalidKeyError
			if errors.As(err, &keyErr) {
				unparseable.Column = keyErr.Column
				unparseable.Reason = keyErr.At(string(rec.Side), rec.Row).Error()
			}
			result.Unparseable = append(result.Unparseable, unparseable)
			continue
		}
		idx.buckets[key] = append(idx.buckets[key], rec)
	}
	return idx
}

// Match classifies bo against partner. thresholds may be nil (exact match everywhere);
// statuses may be nil (nothing is treated as resolved). The output depends only on the
// input sets: buckets are joined in sorted key order and records within a bucket are
// paired in feed order.
func (m *Matcher) Match(ctx context.Context, bo, partner []models.SideRecord, model *models.ProcessingModel, thresholds tolerance.Resolver, statuses statusstore.Reader) (*models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Matcher.Match")
	defer span.End()

	if thresholds == nil {
		thresholds = tolerance.Fixed(decimal.Zero)
	}

	result := &models.MatchResult{
		Matched:      []models.MatchEntry{},
		Mismatched:   []models.MatchEntry{},
		BOOnly:       []models.MatchEntry{},
		PartnerOnly:  []models.MatchEntry{},
		Unparseable:  []models.UnparseableRecord{},
		TotalBO:      len(bo),
		TotalPartner: len(partner),
	}

	boIdx := m.buildIndex(bo, model, result)
	partnerIdx := m.buildIndex(partner, model, result)

	allKeys := make([]models.ReconciliationKey, 0, len(boIdx.buckets)+len(partnerIdx.buckets))
	for k := range boIdx.buckets {
		allKeys = append(allKeys, k)
	}
	for k := range partnerIdx.buckets {
		if _, seen := boIdx.buckets[k]; !seen {
			allKeys = append(allKeys, k)
		}
	}
	sort.Slice(allKeys, func(i, j int) bool { return allKeys[i] < allKeys[j] })

	for i, key := range allKeys {
		if i%m.config.BucketCheckEvery == 0 {
			if err := m.check(ctx); err != nil {
				return nil, err
			}
			m.reportProgress(i, len(allKeys))
		}
		m.joinBucket(key, boIdx.buckets[key], partnerIdx.buckets[key], model, thresholds, result)
	}
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	if statuses != nil {
		if err := m.applyResolutions(ctx, statuses, result); err != nil {
			return nil, err
		}
	}
	m.reportProgress(len(allKeys), len(allKeys))

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"keys":         len(allKeys),
		"matched":      len(result.Matched),
		"mismatched":   len(result.Mismatched),
		"bo_only":      len(result.BOOnly),
		"partner_only": len(result.PartnerOnly),
		"unparseable":  len(result.Unparseable),
	}).Debug("matching finished")

	return result, nil
}

func (m *Matcher) joinBucket(key models.ReconciliationKey, bos, partners []models.SideRecord, model *models.ProcessingModel, thresholds tolerance.Resolver, result *models.MatchResult) {
	pairs := min(len(bos), len(partners))

	for i := 0; i < pairs; i++ {
		boRec, partnerRec := bos[i], partners[i]
		diffs := m.compare(boRec.Record, partnerRec.Record, model, thresholds)
		entry := models.MatchEntry{
			Key:     key,
			BO:      &boRec,
			Partner: &partnerRec,
		}
		if len(diffs) == 0 {
			entry.Outcome = models.OutcomeMatched
			result.Matched = append(result.Matched, entry)
			continue
		}
		entry.Outcome = models.OutcomeMismatched
		entry.Differences = diffs
		result.Mismatched = append(result.Mismatched, entry)
	}

	for i := pairs; i < len(bos); i++ {
		rec := bos[i]
		result.BOOnly = append(result.BOOnly, models.MatchEntry{Key: key, Outcome: models.OutcomeBOOnly, BO: &rec})
	}
	for i := pairs; i < len(partners); i++ {
		rec := partners[i]
		result.PartnerOnly = append(result.PartnerOnly, models.MatchEntry{Key: key, Outcome: models.OutcomePartnerOnly, Partner: &rec})
	}
}

// compare returns the differing pairs; empty means every compare pair agreed.
func (m *Matcher) compare(bo, partner models.CanonicalRecord, model *models.ProcessingModel, thresholds tolerance.Resolver) []models.ColumnDifference {
	var (
		diffs     []models.ColumnDifference
		threshold *decimal.Decimal
	)

	for _, pair := range model.ComparePairs {
		if pair.Kind == models.CompareKindNumeric && threshold == nil {
			t := thresholds.Resolve(pick(bo, partner, model.OwnerColumn), pick(bo, partner, model.OperationTypeColumn))
			threshold = &t
		}

		limit := decimal.Zero
		if threshold != nil {
			limit = *threshold
		}

		boValue, partnerValue := bo.Get(pair.BOColumn), partner.Get(pair.PartnerColumn)
		cmp := m.evaluator.Compare(boValue, partnerValue, pair, limit)
		if cmp.Equal {
			continue
		}

		diff := models.ColumnDifference{
			BOColumn:      pair.BOColumn,
			PartnerColumn: pair.PartnerColumn,
			Kind:          pair.Kind,
			BOValue:       boValue,
			PartnerValue:  partnerValue,
			Delta:         cmp.Delta,
		}
		if pair.Kind == models.CompareKindNumeric {
			l := limit
			diff.Threshold = &l
		}
		diffs = append(diffs, diff)
	}
	return diffs
}

// pick reads a threshold dimension from the BO record first, then the partner record.
func pick(bo, partner models.CanonicalRecord, column string) string {
	if column == "" {
		return ""
	}
	if v := bo.Get(column); v != "" {
		return v
	}
	return partner.Get(column)
}

// applyResolutions flags discrepancies whose key an operator already marked OK.
func (m *Matcher) applyResolutions(ctx context.Context, statuses statusstore.Reader, result *models.MatchResult) error {
	seen := map[models.ReconciliationKey]struct{}{}
	var pending []models.ReconciliationKey
	for _, group := range [][]models.MatchEntry{result.Mismatched, result.BOOnly, result.PartnerOnly} {
		for _, e := range group {
			if _, ok := seen[e.Key]; ok {
				continue
			}
			seen[e.Key] = struct{}{}
			pending = append(pending, e.Key)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	found, err := statuses.BulkGet(ctx, pending)
	if err != nil {
		return err
	}

	mark := func(entries []models.MatchEntry) {
		for i := range entries {
			if st, ok := found[entries[i].Key]; ok && st.Status == models.KeyStatusOK {
				entries[i].Resolved = true
			}
		}
	}
	mark(result.Mismatched)
	mark(result.BOOnly)
	mark(result.PartnerOnly)
	return nil
}

func (m *Matcher) reportProgress(done, total int) {
	if m.config.Progress == nil {
		return
	}
	if total == 0 {
		m.config.Progress(100)
		return
	}
	m.config.Progress(done * 100 / total)
}
