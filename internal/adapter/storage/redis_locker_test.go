package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

func newMockLocker(t *testing.T) (*RedisLocker, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, 10*time.Second)
	locker.token = func() string { return "token-1" }
	locker.retry = time.Millisecond
	return locker, mock
}

func TestRedisLocker_TryLockAndRelease(t *testing.T) {
	locker, mock := newMockLocker(t)

	mock.ExpectSetNX(lockKeyPrefix+"listing:1", "token-1", 10*time.Second).SetVal(true)
	mock.ExpectEvalSha(releaseLockScript.Hash(), []string{lockKeyPrefix + "listing:1"}, "token-1").SetVal(int64(1))

	release, err := locker.TryLock(context.Background(), "listing:1")
	require.NoError(t, err)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_TryLockHeld(t *testing.T) {
	locker, mock := newMockLocker(t)

	mock.ExpectSetNX(lockKeyPrefix+"sweep", "token-1", 10*time.Second).SetVal(false)

	_, err := locker.TryLock(context.Background(), "sweep")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_LockRetriesUntilFree(t *testing.T) {
	locker, mock := newMockLocker(t)
	key := lockKeyPrefix + "txn:1"

	mock.ExpectSetNX(key, "token-1", 10*time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-1", 10*time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-1", 10*time.Second).SetVal(true)

	release, err := locker.Lock(context.Background(), "txn:1")
	require.NoError(t, err)
	require.NotNil(t, release)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_LockHonorsContext(t *testing.T) {
	locker, mock := newMockLocker(t)
	locker.retry = time.Hour
	key := lockKeyPrefix + "txn:2"

	mock.ExpectSetNX(key, "token-1", 10*time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := locker.Lock(ctx, "txn:2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_RedisError(t *testing.T) {
	locker, mock := newMockLocker(t)
	boom := errors.New("connection refused")

	mock.ExpectSetNX(lockKeyPrefix+"txn:3", "token-1", 10*time.Second).SetErr(boom)

	_, err := locker.Lock(context.Background(), "txn:3")
	assert.ErrorIs(t, err, boom)
}
