package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-sqlexec/internal/cacheinfra"
)

// Config exposes shared cache configuration options.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewSharedCache creates a sturdyc backed Cache named id.
func NewSharedCache(id string, cfg Config) (Cache, error) {
	store, err := cacheinfra.NewStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &sharedCache{id: id, store: store}, nil
}

// nullValue marks a key written with an explicit nil.
type nullValue struct{}

type sharedCache struct {
	id    string
	store *cacheinfra.Store
}

func (s *sharedCache) ID() string {
	return s.id
}

func (s *sharedCache) Get(_ context.Context, key *Key) (any, error) {
	v, ok := s.store.Get(key.String())
	if !ok {
		return nil, nil
	}
	if _, isNull := v.(nullValue); isNull {
		return nil, nil
	}
	return v, nil
}

func (s *sharedCache) Put(_ context.Context, key *Key, value any) error {
	if value == nil {
		s.store.Set(key.String(), nullValue{})
		return nil
	}
	s.store.Set(key.String(), value)
	return nil
}

func (s *sharedCache) Remove(_ context.Context, key *Key) error {
	s.store.Delete(key.String())
	return nil
}

func (s *sharedCache) Clear(context.Context) error {
	s.store.Clear()
	return nil
}

func (s *sharedCache) Size() int {
	return s.store.Size()
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
