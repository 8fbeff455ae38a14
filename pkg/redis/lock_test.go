package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/models"
)

func getTestLocker(t *testing.T) *Locker {
	t.Helper()
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set, skipping redis integration test")
	}
	port := 6379
	if p := os.Getenv("REDIS_PORT"); p != "" {
		port, _ = strconv.Atoi(p)
	}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(context.Background(), Config{Host: host, Port: port}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewLocker(client, "test-lock:"+uuid.NewString()+":")
}

func TestLocker_AcquireContendRelease(t *testing.T) {
	ctx := context.Background()
	locker := getTestLocker(t)

	lock, err := locker.Acquire(ctx, locking.Request{LockKey: "scope", LockType: "RECONCILIATION", HolderID: "a", TTL: 5 * time.Second})
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, locking.Request{LockKey: "scope", LockType: "RECONCILIATION", HolderID: "b", TTL: 5 * time.Second})
	var contention *apperrors.LockContentionError
	require.ErrorAs(t, err, &contention)
	assert.Equal(t, "a", contention.HolderID)

	extended, err := locker.Extend(ctx, lock, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.After(lock.ExpiresAt))

	require.NoError(t, locker.Release(ctx, lock))
	_, err = locker.Extend(ctx, lock, time.Second)
	assert.True(t, apperrors.IsLockExpiredError(err))

	_, err = locker.Acquire(ctx, locking.Request{LockKey: "scope", LockType: "RECONCILIATION", HolderID: "b", TTL: 5 * time.Second})
	assert.NoError(t, err)
}

func TestLocker_ExpiredLeaseIsFree(t *testing.T) {
	ctx := context.Background()
	locker := getTestLocker(t)

	_, err := locker.Acquire(ctx, locking.Request{LockKey: "k", LockType: "t", HolderID: "crashed", TTL: 50 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	lock, err := locker.Acquire(ctx, locking.Request{LockKey: "k", LockType: "t", HolderID: "next", TTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "next", lock.HolderID)
}

func TestLocker_SameHolderTakeover(t *testing.T) {
	ctx := context.Background()
	locker := getTestLocker(t)

	lapsed, err := locker.Acquire(ctx, locking.Request{LockKey: "k", LockType: "t", HolderID: "host-1", TTL: 50 * time.Millisecond})
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	current, err := locker.Acquire(ctx, locking.Request{LockKey: "k", LockType: "t", HolderID: "host-1", TTL: 5 * time.Second})
	require.NoError(t, err)

	_, err = locker.Extend(ctx, lapsed, time.Second)
	assert.True(t, apperrors.IsLockExpiredError(err))

	require.NoError(t, locker.Release(ctx, lapsed))
	_, err = locker.Acquire(ctx, locking.Request{LockKey: "k", LockType: "t", HolderID: "host-2", TTL: time.Second})
	var contention *apperrors.LockContentionError
	require.ErrorAs(t, err, &contention)
	assert.Equal(t, "host-1", contention.HolderID)

	require.NoError(t, locker.Release(ctx, current))
}

func TestLeaseValue(t *testing.T) {
	tests := []struct {
		name   string
		holder string
		token  string
	}{
		{name: "plain holder", holder: "host-1", token: "t1"},
		{name: "holder with separator", holder: "a|b", token: "t2"},
		{name: "empty holder", holder: "", token: "t3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value := leaseValue(&models.ReconciliationLock{HolderID: tt.holder, Token: tt.token})
			assert.Equal(t, tt.holder, holderOf(value))
		})
	}
	assert.Equal(t, "legacy", holderOf("legacy"))
}

func TestRedisKey(t *testing.T) {
	l := NewLocker(nil, "")
	assert.Equal(t, "lock:RECONCILIATION:MM:CI", l.redisKey("RECONCILIATION", "MM:CI"))
}
