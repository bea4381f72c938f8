package entity

import (
	"context"
	"sync"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// memStore backs the resolver when no database is available (file-only
// collection). Identity then lasts only for the process lifetime.
type memStore struct {
	mu    sync.Mutex
	byRef map[refKey]*types.Entity
}

// MemoryStore returns an in-memory entity store.
func MemoryStore() Store {
	return &memStore{byRef: make(map[refKey]*types.Entity)}
}

func (m *memStore) GetEntityByRef(_ context.Context, volume string, ref uint64) (*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byRef[refKey{volume, ref}]; ok {
		return e, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) SaveEntity(_ context.Context, e *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRef[refKey{e.Volume, e.FileReference}] = e
	return nil
}
