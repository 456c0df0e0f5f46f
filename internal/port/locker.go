package port

import "context"

// Locker serializes work on a key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (release func(), err error)

	// TryLock returns domain.ErrLockNotAcquired when the key is already held
	TryLock(ctx context.Context, key string) (release func(), err error)
}
