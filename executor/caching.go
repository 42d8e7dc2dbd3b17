package executor

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
)

// ErrCachedOutParams is returned when a callable statement with OUT
// parameters is configured to use a shared cache.
var ErrCachedOutParams = errors.New("caching stored procedures with OUT params is not supported")

// Session is the public surface shared by Executor and CachingExecutor.
type Session interface {
	resultset.Executor
	Query(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler) ([]any, error)
	QueryCursor(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds) (*resultset.Cursor, error)
	Update(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error)
	FlushStatements(ctx context.Context) ([]*BatchResult, error)
	Commit(ctx context.Context, required bool) error
	Rollback(ctx context.Context, required bool) error
	Close(ctx context.Context, forceRollback bool)
	ClearLocalCache()
	Transaction() (driver.Transaction, error)
}

// Interface assertions to ensure both executors serve the same surface
var (
	_ Session = (*Executor)(nil)
	_ Session = (*CachingExecutor)(nil)
)

// CachingExecutor decorates an Executor with the shared caches configured
// on mapped statements. Writes to a shared cache stay in a transactional
// buffer until Commit.
type CachingExecutor struct {
	delegate *Executor
	tcm      *cache.TransactionalCacheManager
	logger   *slog.Logger
}

// NewCaching wraps delegate. Nested queries issued while assembling results
// are routed back through the returned executor.
func NewCaching(delegate *Executor) *CachingExecutor {
	logger := delegate.logger.With("component", "caching_executor")
	c := &CachingExecutor{
		delegate: delegate,
		tcm:      cache.NewTransactionalCacheManager(logger),
		logger:   logger,
	}
	delegate.SetWrapper(c)
	return c
}

// Delegate returns the wrapped executor.
func (c *CachingExecutor) Delegate() *Executor {
	return c.delegate
}

// Transaction returns the delegate transaction.
func (c *CachingExecutor) Transaction() (driver.Transaction, error) {
	return c.delegate.Transaction()
}

// IsClosed reports whether the delegate was closed.
func (c *CachingExecutor) IsClosed() bool {
	return c.delegate.IsClosed()
}

// Close commits the cache buffers, or rolls them back when forced, then
// closes the delegate.
func (c *CachingExecutor) Close(ctx context.Context, forceRollback bool) {
	if c.IsClosed() {
		return
	}
	if forceRollback {
		c.tcm.Rollback(ctx)
	} else if err := c.tcm.Commit(ctx); err != nil {
		c.logger.Warn("cannot publish cached results on close", "error", err)
	}
	c.delegate.Close(ctx, forceRollback)
}

// Update clears the statement's shared cache buffer when required and
// runs the update.
func (c *CachingExecutor) Update(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error) {
	if c.IsClosed() {
		return 0, errors.Wrap(ErrExecutorClosed, "update")
	}
	c.flushCacheIfRequired(ms)
	return c.delegate.Update(ctx, ms, param)
}

// FlushStatements runs pending batched statements.
func (c *CachingExecutor) FlushStatements(ctx context.Context) ([]*BatchResult, error) {
	return c.delegate.FlushStatements(ctx)
}

// Query runs a select with a freshly computed cache key.
func (c *CachingExecutor) Query(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler) ([]any, error) {
	bound := ms.BoundSQL(param)
	key, err := c.CreateCacheKey(ms, param, bounds, bound)
	if err != nil {
		return nil, err
	}
	return c.QueryWithKey(ctx, ms, param, bounds, rh, key, bound)
}

// QueryWithKey answers from the shared cache when the statement uses one,
// otherwise from the delegate.
func (c *CachingExecutor) QueryWithKey(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, key *cache.Key, bound *mapping.BoundSQL) ([]any, error) {
	if c.IsClosed() {
		return nil, errors.Wrap(ErrExecutorClosed, "query")
	}
	if ms.Cache == nil {
		return c.delegate.QueryWithKey(ctx, ms, param, bounds, rh, key, bound)
	}
	c.flushCacheIfRequired(ms)
	if !ms.UseCache || rh != nil {
		return c.delegate.QueryWithKey(ctx, ms, param, bounds, rh, key, bound)
	}
	if err := ensureNoOutParams(ms, bound); err != nil {
		return nil, err
	}

	cached, err := c.tcm.Get(ctx, ms.Cache, key)
	if err != nil {
		return nil, errors.Wrapf(err, "read cache %s", ms.Cache.ID())
	}
	if list, ok := cached.([]any); ok {
		c.logger.Debug("shared cache hit", "statement", ms.ID, "cache", ms.Cache.ID())
		return list, nil
	}

	list, err := c.delegate.QueryWithKey(ctx, ms, param, bounds, rh, key, bound)
	if err != nil {
		return nil, err
	}
	c.tcm.Put(ms.Cache, key, list)
	return list, nil
}

// QueryCursor clears the shared cache buffer when required and opens a
// cursor on the delegate.
func (c *CachingExecutor) QueryCursor(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds) (*resultset.Cursor, error) {
	if c.IsClosed() {
		return nil, errors.Wrap(ErrExecutorClosed, "query cursor")
	}
	c.flushCacheIfRequired(ms)
	return c.delegate.QueryCursor(ctx, ms, param, bounds)
}

// Commit commits the delegate, then publishes buffered cache writes.
func (c *CachingExecutor) Commit(ctx context.Context, required bool) error {
	if err := c.delegate.Commit(ctx, required); err != nil {
		return err
	}
	return c.tcm.Commit(ctx)
}

// Rollback rolls back the delegate and, when required, discards buffered
// cache writes.
func (c *CachingExecutor) Rollback(ctx context.Context, required bool) error {
	err := c.delegate.Rollback(ctx, required)
	if required {
		c.tcm.Rollback(ctx)
	}
	return err
}

func (c *CachingExecutor) CreateCacheKey(ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*cache.Key, error) {
	return c.delegate.CreateCacheKey(ms, param, bounds, bound)
}

func (c *CachingExecutor) IsCached(ms *mapping.MappedStatement, key *cache.Key) bool {
	return c.delegate.IsCached(ms, key)
}

func (c *CachingExecutor) DeferLoad(ms *mapping.MappedStatement, meta *reflection.MetaObject, property string, key *cache.Key, target reflect.Type) error {
	return c.delegate.DeferLoad(ms, meta, property, key, target)
}

func (c *CachingExecutor) ClearLocalCache() {
	c.delegate.ClearLocalCache()
}

func (c *CachingExecutor) flushCacheIfRequired(ms *mapping.MappedStatement) {
	if ms.Cache != nil && ms.FlushCacheRequired {
		c.tcm.Clear(ms.Cache)
	}
}

func ensureNoOutParams(ms *mapping.MappedStatement, bound *mapping.BoundSQL) error {
	if ms.Kind != mapping.Callable {
		return nil
	}
	for _, pm := range bound.ParameterMappings {
		if pm.Mode != mapping.In {
			return errors.Wrap(ErrCachedOutParams, ms.ID)
		}
	}
	return nil
}
