package statusstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// MemoryStore is a process-local Store for one-shot CLI runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[models.ReconciliationKey]models.KeyStatus
	history []models.KeyStatusChange
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[models.ReconciliationKey]models.KeyStatus),
		now:  time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, key models.ReconciliationKey, status models.KeyStatusValue, markedBy string) (*models.KeyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	row, exists := s.rows[key]
	if !exists {
		row = models.KeyStatus{Key: key, CreatedAt: now}
	}
	if !now.After(row.UpdatedAt) {
		now = row.UpdatedAt.Add(time.Microsecond)
	}
	row.Status = status
	row.MarkedBy = markedBy
	row.UpdatedAt = now
	s.rows[key] = row

	s.history = append(s.history, models.KeyStatusChange{
		ID:        uuid.New(),
		Key:       key,
		Status:    status,
		MarkedBy:  markedBy,
		CreatedAt: now,
	})

	out := row
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key models.ReconciliationKey) (*models.KeyStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[key]
	if !ok || row.Status == models.KeyStatusCleared {
		return nil, false, nil
	}
	return &row, true, nil
}

func (s *MemoryStore) BulkGet(_ context.Context, keys []models.ReconciliationKey) (map[models.ReconciliationKey]models.KeyStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.ReconciliationKey]models.KeyStatus, len(keys))
	for _, k := range keys {
		if row, ok := s.rows[k]; ok && row.Status != models.KeyStatusCleared {
			out[k] = row
		}
	}
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, key models.ReconciliationKey) ([]models.KeyStatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.KeyStatusChange
	for _, h := range s.history {
		if h.Key == key {
			out = append(out, h)
		}
	}
	return out, nil
}
