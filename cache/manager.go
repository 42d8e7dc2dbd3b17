package cache

import (
	"context"
	"log/slog"
	"sync"
)

// TransactionalCacheManager keeps one TransactionalCache per shared cache
// touched during a unit of work.
type TransactionalCacheManager struct {
	mu     sync.Mutex
	logger *slog.Logger
	caches map[Cache]*TransactionalCache
	order  []Cache
}

// NewTransactionalCacheManager creates an empty manager.
func NewTransactionalCacheManager(logger *slog.Logger) *TransactionalCacheManager {
	return &TransactionalCacheManager{
		logger: logger,
		caches: make(map[Cache]*TransactionalCache),
	}
}

// Get reads key from the buffer in front of c.
func (m *TransactionalCacheManager) Get(ctx context.Context, c Cache, key *Key) (any, error) {
	return m.buffer(c).Get(ctx, key)
}

// Put buffers value for c.
func (m *TransactionalCacheManager) Put(c Cache, key *Key, value any) {
	m.buffer(c).Put(key, value)
}

// Clear schedules a clear of c on commit.
func (m *TransactionalCacheManager) Clear(c Cache) {
	m.buffer(c).Clear()
}

// Commit commits every buffer in the order the caches were first used.
func (m *TransactionalCacheManager) Commit(ctx context.Context) error {
	for _, tc := range m.buffers() {
		if err := tc.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Rollback rolls back every buffer.
func (m *TransactionalCacheManager) Rollback(ctx context.Context) {
	for _, tc := range m.buffers() {
		tc.Rollback(ctx)
	}
}

func (m *TransactionalCacheManager) buffer(c Cache) *TransactionalCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.caches[c]
	if !ok {
		tc = NewTransactionalCache(c, m.logger)
		m.caches[c] = tc
		m.order = append(m.order, c)
	}
	return tc
}

func (m *TransactionalCacheManager) buffers() []*TransactionalCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TransactionalCache, 0, len(m.order))
	for _, c := range m.order {
		out = append(out, m.caches[c])
	}
	return out
}
