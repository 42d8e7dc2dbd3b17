// Package mapping holds the descriptors the executor works from: statement
// definitions, result maps and the shared Configuration with its settings
// and registries.
package mapping

import (
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/reflection"
	"github.com/goliatone/go-sqlexec/typehandler"
)

var (
	ErrUnknownResultMap = errors.New("unknown result map")
	ErrUnknownStatement = errors.New("unknown mapped statement")
	ErrDuplicateID      = errors.New("duplicate id")
)

// LocalCacheScope controls the lifetime of the session cache.
type LocalCacheScope int

const (
	ScopeSession LocalCacheScope = iota
	ScopeStatement
)

// AutoMappingBehavior controls which result maps map unlisted columns.
type AutoMappingBehavior int

const (
	AutoMappingNone AutoMappingBehavior = iota
	AutoMappingPartial
	AutoMappingFull
)

// UnknownColumnBehavior controls what happens to auto mapped columns that
// match no property.
type UnknownColumnBehavior int

const (
	UnknownColumnNone UnknownColumnBehavior = iota
	UnknownColumnWarning
	UnknownColumnFailing
)

// Settings are the tunables of a Configuration.
type Settings struct {
	LocalCacheScope                  LocalCacheScope
	AutoMappingBehavior              AutoMappingBehavior
	AutoMappingUnknownColumnBehavior UnknownColumnBehavior
	MapUnderscoreToCamelCase         bool
	CallSettersOnNulls               bool
	ReturnInstanceForEmptyRow        bool
	LazyLoadingEnabled               bool
	SafeRowBoundsEnabled             bool
	SafeResultHandlerEnabled         bool
	DefaultStatementTimeout          time.Duration
	DefaultFetchSize                 int
	EnvironmentID                    string
}

// DefaultSettings returns the settings used by NewConfiguration.
func DefaultSettings() Settings {
	return Settings{
		LocalCacheScope:          ScopeSession,
		AutoMappingBehavior:      AutoMappingPartial,
		SafeResultHandlerEnabled: true,
		EnvironmentID:            "default",
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.EnvironmentID, validation.Required),
		validation.Field(&s.LocalCacheScope, validation.In(ScopeSession, ScopeStatement)),
		validation.Field(&s.AutoMappingBehavior, validation.In(AutoMappingNone, AutoMappingPartial, AutoMappingFull)),
		validation.Field(&s.AutoMappingUnknownColumnBehavior, validation.In(UnknownColumnNone, UnknownColumnWarning, UnknownColumnFailing)),
		validation.Field(&s.DefaultStatementTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.DefaultFetchSize, validation.Min(0)),
	)
}

// Configuration carries settings plus the result map and statement
// registries. Registration is safe for concurrent use.
type Configuration struct {
	Settings
	TypeHandlers  *typehandler.Registry
	ObjectFactory *reflection.ObjectFactory
	Logger        *slog.Logger

	mu         sync.RWMutex
	resultMaps map[string]*ResultMap
	statements map[string]*MappedStatement
}

// Option configures a Configuration.
type Option func(*Configuration)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(c *Configuration) {
		c.Settings = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Configuration) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTypeHandlers sets the type handler registry.
func WithTypeHandlers(r *typehandler.Registry) Option {
	return func(c *Configuration) {
		if r != nil {
			c.TypeHandlers = r
		}
	}
}

// WithObjectFactory sets the object factory.
func WithObjectFactory(f *reflection.ObjectFactory) Option {
	return func(c *Configuration) {
		if f != nil {
			c.ObjectFactory = f
		}
	}
}

// NewConfiguration returns a Configuration with DefaultSettings.
func NewConfiguration(opts ...Option) *Configuration {
	c := &Configuration{
		Settings:      DefaultSettings(),
		TypeHandlers:  typehandler.NewRegistry(),
		ObjectFactory: reflection.NewObjectFactory(),
		Logger:        slog.Default(),
		resultMaps:    make(map[string]*ResultMap),
		statements:    make(map[string]*MappedStatement),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks settings and collaborators.
func (c *Configuration) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	if c.TypeHandlers == nil {
		return errors.New("type handler registry is required")
	}
	if c.ObjectFactory == nil {
		return errors.New("object factory is required")
	}
	return nil
}

// AddResultMap registers rm. A result map whose discriminator leads to a
// map with nested result maps is itself marked as nested, and so is every
// registered map that discriminates into rm.
func (c *Configuration) AddResultMap(rm *ResultMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resultMaps[rm.ID]; ok {
		return errors.Wrapf(ErrDuplicateID, "result map %s", rm.ID)
	}
	c.resultMaps[rm.ID] = rm

	if !rm.HasNestedResultMaps && rm.Discriminator != nil {
		for _, id := range rm.Discriminator.Cases {
			if target, ok := c.resultMaps[id]; ok && target.HasNestedResultMaps {
				rm.HasNestedResultMaps = true
				break
			}
		}
	}
	if rm.HasNestedResultMaps {
		for _, other := range c.resultMaps {
			if other.HasNestedResultMaps || other.Discriminator == nil {
				continue
			}
			for _, id := range other.Discriminator.Cases {
				if id == rm.ID {
					other.HasNestedResultMaps = true
					break
				}
			}
		}
	}
	return nil
}

// ResultMap returns the result map registered under id.
func (c *Configuration) ResultMap(id string) (*ResultMap, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rm, ok := c.resultMaps[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownResultMap, id)
	}
	return rm, nil
}

// HasResultMap reports whether id is registered.
func (c *Configuration) HasResultMap(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.resultMaps[id]
	return ok
}

// AddMappedStatement registers ms.
func (c *Configuration) AddMappedStatement(ms *MappedStatement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.statements[ms.ID]; ok {
		return errors.Wrapf(ErrDuplicateID, "statement %s", ms.ID)
	}
	c.statements[ms.ID] = ms
	return nil
}

// MappedStatement returns the statement registered under id.
func (c *Configuration) MappedStatement(id string) (*MappedStatement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.statements[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownStatement, id)
	}
	return ms, nil
}

// HasStatement reports whether id is registered.
func (c *Configuration) HasStatement(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.statements[id]
	return ok
}

// NewMetaObject wraps v with the configured object factory.
func (c *Configuration) NewMetaObject(v any) (*reflection.MetaObject, error) {
	return reflection.NewMetaObject(v, c.ObjectFactory)
}

// StatementTimeout returns the timeout of ms or the default.
func (c *Configuration) StatementTimeout(ms *MappedStatement) time.Duration {
	if ms.Timeout > 0 {
		return ms.Timeout
	}
	return c.DefaultStatementTimeout
}
