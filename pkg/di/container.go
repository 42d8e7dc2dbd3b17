package di

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/driver/bundriver"
	"github.com/goliatone/go-sqlexec/executor"
	"github.com/goliatone/go-sqlexec/mapping"
)

// ErrNoDatabase is returned when a session is requested from a container
// built without a database.
var ErrNoDatabase = errors.New("container has no database")

// Container wires the mapping configuration, the shared caches and the
// database, and hands out executors.
// Shared caches are singletons per namespace.
type Container struct {
	config       *mapping.Configuration
	cacheConfig  cache.Config
	cacheEnabled bool
	db           *bun.DB
	txOptions    []bundriver.Option
	logger       *slog.Logger

	mu     sync.Mutex
	caches map[string]cache.Cache
}

// Option configures a Container.
type Option func(*Container)

// WithDB sets the database sessions run against.
func WithDB(db *bun.DB) Option {
	return func(c *Container) {
		c.db = db
	}
}

// WithCacheEnabled toggles the shared cache decorator. It is on by default.
func WithCacheEnabled(enabled bool) Option {
	return func(c *Container) {
		c.cacheEnabled = enabled
	}
}

// WithTransactionOptions sets the options of every transaction opened by
// OpenSession.
func WithTransactionOptions(opts ...bundriver.Option) Option {
	return func(c *Container) {
		c.txOptions = append(c.txOptions, opts...)
	}
}

// NewContainer validates both configurations and returns a container.
func NewContainer(config *mapping.Configuration, cacheConfig cache.Config, opts ...Option) (*Container, error) {
	if config == nil {
		return nil, errors.New("configuration is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := cacheConfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid cache config")
	}

	c := &Container{
		config:       config,
		cacheConfig:  cacheConfig,
		cacheEnabled: true,
		caches:       make(map[string]cache.Cache),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = config.Logger.With("component", "container")
	return c, nil
}

// NewContainerWithDefaults uses a default configuration and cache config.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(mapping.NewConfiguration(), cache.DefaultConfig(), opts...)
}

// Configuration returns the mapping configuration.
func (c *Container) Configuration() *mapping.Configuration {
	return c.config
}

// CacheConfig returns a copy of the shared cache configuration.
func (c *Container) CacheConfig() cache.Config {
	return c.cacheConfig
}

// DB returns the database, nil when none was configured.
func (c *Container) DB() *bun.DB {
	return c.db
}

// Cache returns the shared cache for namespace, creating it on first use.
func (c *Container) Cache(namespace string) (cache.Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sc, ok := c.caches[namespace]; ok {
		return sc, nil
	}
	sc, err := cache.NewSharedCache(namespace, c.cacheConfig)
	if err != nil {
		return nil, err
	}
	c.caches[namespace] = sc
	c.logger.Debug("shared cache created", "cache", namespace)
	return sc, nil
}

// NewExecutor returns an executor of kind over tx, decorated with the
// shared cache layer unless it was disabled.
func (c *Container) NewExecutor(tx driver.Transaction, kind executor.Kind, opts ...executor.Option) executor.Session {
	e := executor.New(c.config, tx, kind, opts...)
	if c.cacheEnabled {
		return executor.NewCaching(e)
	}
	return e
}

// OpenSession begins a unit of work on the container database.
func (c *Container) OpenSession(kind executor.Kind, opts ...executor.Option) (executor.Session, error) {
	if c.db == nil {
		return nil, ErrNoDatabase
	}
	txOpts := append([]bundriver.Option{bundriver.WithLogger(c.config.Logger)}, c.txOptions...)
	return c.NewExecutor(bundriver.New(c.db, txOpts...), kind, opts...), nil
}

// Close closes the database, if any.
func (c *Container) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
