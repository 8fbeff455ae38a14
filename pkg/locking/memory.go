package locking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
)

type memoryKey struct {
	key string
	typ string
}

// MemoryLocker is a process-local Locker for CLI runs and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[memoryKey]models.ReconciliationLock
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[memoryKey]models.ReconciliationLock),
		now:   time.Now,
	}
}

// WithClock swaps the time source, for expiry tests.
func (l *MemoryLocker) WithClock(now func() time.Time) *MemoryLocker {
	l.now = now
	return l
}

func (l *MemoryLocker) Acquire(_ context.Context, req Request) (*models.ReconciliationLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := memoryKey{req.LockKey, req.LockType}
	if existing, ok := l.locks[k]; ok && !existing.Expired(now) {
		return nil, &apperrors.LockContentionError{LockKey: req.LockKey, LockType: req.LockType, HolderID: existing.HolderID}
	}

	lock := models.ReconciliationLock{
		LockKey:    req.LockKey,
		LockType:   req.LockType,
		HolderID:   req.HolderID,
		Token:      uuid.NewString(),
		JobID:      req.JobID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(req.TTL),
	}
	l.locks[k] = lock
	return &lock, nil
}

func (l *MemoryLocker) Extend(_ context.Context, lock *models.ReconciliationLock, ttl time.Duration) (*models.ReconciliationLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := memoryKey{lock.LockKey, lock.LockType}
	existing, ok := l.locks[k]
	if !ok || !existing.Owns(*lock) || existing.Expired(now) {
		return nil, &apperrors.LockExpiredError{LockKey: lock.LockKey, LockType: lock.LockType, ExpiredAt: lock.ExpiresAt}
	}

	existing.ExpiresAt = now.Add(ttl)
	l.locks[k] = existing
	return &existing, nil
}

func (l *MemoryLocker) Release(_ context.Context, lock *models.ReconciliationLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := memoryKey{lock.LockKey, lock.LockType}
	if existing, ok := l.locks[k]; ok && existing.Owns(*lock) {
		delete(l.locks, k)
	}
	return nil
}
