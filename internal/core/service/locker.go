package service

import (
	"context"
	"sync"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// KeyedMutex is an in-process port.Locker with one lock per key. A key's
// entry lives only while someone holds or waits for it.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // capacity 1
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) acquire(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	kl, ok := k.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (k *KeyedMutex) drop(key string, kl *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) unlocker(key string, kl *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			k.drop(key, kl)
		})
	}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	kl := k.acquire(key)
	select {
	case kl.ch <- struct{}{}:
		return k.unlocker(key, kl), nil
	case <-ctx.Done():
		k.drop(key, kl)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) TryLock(ctx context.Context, key string) (func(), error) {
	kl := k.acquire(key)
	select {
	case kl.ch <- struct{}{}:
		return k.unlocker(key, kl), nil
	default:
		k.drop(key, kl)
		return nil, domain.ErrLockNotAcquired
	}
}
