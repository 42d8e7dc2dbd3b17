package cache

import (
	"context"
	"sync"
)

// Cache is the contract of a shared (cross session) cache that a
// TransactionalCache buffers writes for. Implementations may block per key;
// the transactional buffer cooperates by always writing or removing every key
// it missed on.
type Cache interface {
	ID() string
	Get(ctx context.Context, key *Key) (any, error)
	Put(ctx context.Context, key *Key, value any) error
	Remove(ctx context.Context, key *Key) error
	Clear(ctx context.Context) error
	Size() int
}

type entry struct {
	key   *Key
	value any
}

// PerpetualCache is an unbounded key/value store scoped to its owner. It is
// the session cache of an executor and holds no locks across calls beyond
// its own map guard.
type PerpetualCache struct {
	id      string
	mu      sync.RWMutex
	entries map[string]entry
}

// NewPerpetualCache creates an empty store.
func NewPerpetualCache(id string) *PerpetualCache {
	return &PerpetualCache{
		id:      id,
		entries: make(map[string]entry),
	}
}

// ID returns the cache name.
func (c *PerpetualCache) ID() string {
	return c.id
}

// Get returns the value for key and whether it was present.
func (c *PerpetualCache) Get(key *Key) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous value.
func (c *PerpetualCache) Put(key *Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = entry{key: key, value: value}
}

// Remove deletes key and returns the previous value, if any.
func (c *PerpetualCache) Remove(key *Key) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	delete(c.entries, id)
	return e.value
}

// Clear drops every entry.
func (c *PerpetualCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Size returns the number of entries.
func (c *PerpetualCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the keys currently stored, in no particular order.
func (c *PerpetualCache) Keys() []*Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]*Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	return keys
}
