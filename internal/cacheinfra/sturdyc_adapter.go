package cacheinfra

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc backed shared store.
type Config struct {
	// Capacity defines the maximum number of entries that the store can hold.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the time-to-live for stored entries.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are swept.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for a statement
// result cache.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
// Options that only apply to GetOrFetch are not exposed: the store is filled
// by explicit Set calls.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

type fieldCheck struct {
	field string
	value any
	rules []validation.Rule
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	positive := func(msg string) []validation.Rule {
		return []validation.Rule{validation.Required.Error(msg), validation.Min(1).Error(msg)}
	}
	nonNegative := []validation.Rule{validation.Min(time.Duration(0)).Error("must be non-negative")}

	checks := []fieldCheck{
		{"Capacity", c.Capacity, positive("must be greater than 0")},
		{"NumShards", c.NumShards, positive("must be greater than 0")},
		{"TTL", c.TTL, []validation.Rule{
			validation.Required.Error("must be greater than 0"),
			validation.Min(time.Duration(1)).Error("must be greater than 0"),
		}},
		{"EvictionPercentage", c.EvictionPercentage, append(
			positive("must be between 1 and 100"),
			validation.Max(100).Error("must be between 1 and 100"),
		)},
		{"EvictionInterval", c.EvictionInterval, nonNegative},
	}

	for _, check := range checks {
		if err := validation.Validate(check.value, check.rules...); err != nil {
			return &ConfigError{Field: check.field, Message: err.Error()}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Store is a string keyed cache backed by a sturdyc client. A key stored
// with a nil value is present: Get reports it with ok == true.
type Store struct {
	client *sturdyc.Client[any]
}

// NewStore validates cfg and creates the sturdyc client.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &Store{client: client}, nil
}

// Get returns the value stored for key.
func (s *Store) Get(key string) (any, bool) {
	return s.client.Get(key)
}

// Set stores value for key.
func (s *Store) Set(key string, value any) {
	s.client.Set(key, value)
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.client.Delete(key)
}

// Keys lists the keys currently held.
func (s *Store) Keys() []string {
	return s.client.ScanKeys()
}

// Clear removes every key.
func (s *Store) Clear() {
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
}

// Size returns the number of entries.
func (s *Store) Size() int {
	return s.client.Size()
}
