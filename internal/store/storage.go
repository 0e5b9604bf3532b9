package store

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned by Get when no snapshot exists for the id.
var ErrNotFound = errors.New("store: snapshot not found")

// Storage reads and writes dataset snapshots keyed by dataset id.
// Implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, content []byte) error
}

// ErrListUnsupported is returned by ListDatasets for backends that cannot
// enumerate their snapshots.
var ErrListUnsupported = errors.New("store: backend cannot list snapshots")

// Lister is implemented by backends that can enumerate stored snapshots.
type Lister interface {
	Datasets(ctx context.Context) ([]string, error)
}

// ListDatasets returns the ids of all snapshots held by st in lexical order.
func ListDatasets(ctx context.Context, st Storage) ([]string, error) {
	l, ok := st.(Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return l.Datasets(ctx)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored snapshot.
func (m *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

// Put stores a copy of content.
func (m *MemoryStore) Put(ctx context.Context, id string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[id] = append([]byte(nil), content...)
	return nil
}

// Datasets returns the stored ids in lexical order.
func (m *MemoryStore) Datasets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
