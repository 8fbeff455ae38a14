package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/models"
)

// Only the lease that wrote the key may delete or extend it.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Locker implements locking.Locker on SET NX PX. Expired leases vanish on their own,
// so a crashed holder's key is free once its TTL passes.
type Locker struct {
	client    *Client
	keyPrefix string
}

var _ locking.Locker = (*Locker)(nil)

// NewLocker creates a new Locker
func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (l *Locker) redisKey(lockType, lockKey string) string {
	return l.keyPrefix + lockType + ":" + lockKey
}

// leaseValue is the stored value: holder and per-acquire token joined by '|'.
func leaseValue(lock *models.ReconciliationLock) string {
	return lock.HolderID + "|" + lock.Token
}

func holderOf(value string) string {
	if i := strings.LastIndexByte(value, '|'); i >= 0 {
		return value[:i]
	}
	return value
}

func (l *Locker) Acquire(ctx context.Context, req locking.Request) (*models.ReconciliationLock, error) {
	key := l.redisKey(req.LockType, req.LockKey)
	now := time.Now()
	lock := &models.ReconciliationLock{
		LockKey:    req.LockKey,
		LockType:   req.LockType,
		HolderID:   req.HolderID,
		Token:      uuid.NewString(),
		JobID:      req.JobID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(req.TTL),
	}

	ok, err := l.client.rdb.SetNX(ctx, key, leaseValue(lock), req.TTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		value, err := l.client.rdb.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.client.logger.WithContext(ctx).WithError(err).Warn("failed to read lock holder")
		}
		return nil, &apperrors.LockContentionError{LockKey: req.LockKey, LockType: req.LockType, HolderID: holderOf(value)}
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return lock, nil
}

func (l *Locker) Extend(ctx context.Context, lock *models.ReconciliationLock, ttl time.Duration) (*models.ReconciliationLock, error) {
	key := l.redisKey(lock.LockType, lock.LockKey)

	result, err := extendScript.Run(ctx, l.client.rdb, []string{key}, leaseValue(lock), ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, err
	}
	if result == 0 {
		return nil, &apperrors.LockExpiredError{LockKey: lock.LockKey, LockType: lock.LockType, ExpiredAt: lock.ExpiresAt}
	}

	extended := *lock
	extended.ExpiresAt = time.Now().Add(ttl)
	return &extended, nil
}

// Release is a no-op when the lease already lapsed or moved to another holder.
func (l *Locker) Release(ctx context.Context, lock *models.ReconciliationLock) error {
	key := l.redisKey(lock.LockType, lock.LockKey)

	result, err := releaseScript.Run(ctx, l.client.rdb, []string{key}, leaseValue(lock)).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		l.client.logger.WithContext(ctx).Debugf("Lock %s was no longer held by %s", key, lock.HolderID)
		return nil
	}

	l.client.logger.WithContext(ctx).Debugf("Released lock: %s", key)
	return nil
}
