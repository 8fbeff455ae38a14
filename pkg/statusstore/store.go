// Package statusstore keeps the durable OK/KO decision per reconciliation key.
package statusstore

import (
	"context"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// Store is the per-key status table. Every write is a single atomic upsert keyed by key:
// last writer wins on status and updated_at always advances. Rows whose status is the
// CLEARED tombstone are reported as absent by Get and BulkGet.
type Store interface {
	Upsert(ctx context.Context, key models.ReconciliationKey, status models.KeyStatusValue, markedBy string) (*models.KeyStatus, error)
	Get(ctx context.Context, key models.ReconciliationKey) (*models.KeyStatus, bool, error)
	BulkGet(ctx context.Context, keys []models.ReconciliationKey) (map[models.ReconciliationKey]models.KeyStatus, error)
	History(ctx context.Context, key models.ReconciliationKey) ([]models.KeyStatusChange, error)
}

// Reader is the read side the matcher needs.
type Reader interface {
	BulkGet(ctx context.Context, keys []models.ReconciliationKey) (map[models.ReconciliationKey]models.KeyStatus, error)
}
