package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// MemoryRepository keeps entities in process memory. It copies on every
// read and write so callers never share state with the store.
type MemoryRepository[T any] struct {
	info  entityInfo[T]
	mu    sync.RWMutex
	items map[string]T
}

func NewMemoryListingRepository() *MemoryRepository[*domain.Listing] {
	return &MemoryRepository[*domain.Listing]{info: listingInfo, items: make(map[string]*domain.Listing)}
}

func NewMemoryTransactionRepository() *MemoryRepository[*domain.Transaction] {
	return &MemoryRepository[*domain.Transaction]{info: transactionInfo, items: make(map[string]*domain.Transaction)}
}

func (m *MemoryRepository[T]) Get(ctx context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero T
	v, ok := m.items[id]
	if !ok {
		return zero, nil
	}
	return m.info.clone(v), nil
}

func (m *MemoryRepository[T]) GetMany(ctx context.Context, ids []string) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]T, 0, len(ids))
	for _, id := range ids {
		if v, ok := m.items[id]; ok {
			res = append(res, m.info.clone(v))
		}
	}
	return res, nil
}

func (m *MemoryRepository[T]) GetAll(ctx context.Context) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make([]T, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.info.clone(m.items[id]))
	}
	return res, nil
}

func (m *MemoryRepository[T]) Set(ctx context.Context, v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.info.id(v)
	version := m.info.version(v)
	stored := 0
	if cur, ok := m.items[id]; ok {
		stored = *m.info.version(cur)
	}
	if stored != *version {
		return domain.ErrVersionConflict
	}

	*version++
	m.items[id] = m.info.clone(v)
	return nil
}
