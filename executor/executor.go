// Package executor runs mapped statements against a driver transaction.
//
// An Executor is one unit of work. It keeps a session cache of query
// results keyed by cache.Key, so repeating a query without an intervening
// update hits the driver once. Queries may nest: assembling one row can run
// further queries on the same executor, and a nesting depth counter decides
// when cache flushing, deferred loads and statement scoped clearing happen.
//
// Two strategies decide how statements reach the driver: the simple
// strategy runs every statement immediately, the batch strategy groups
// consecutive updates with the same SQL and statement into one driver batch
// that runs on FlushStatements, Commit or the next query.
//
// An Executor is not safe for concurrent use.
package executor

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
)

// ErrExecutorClosed is returned by every operation after Close.
var ErrExecutorClosed = errors.New("executor was closed")

// Kind selects the execution strategy.
type Kind int

const (
	KindSimple Kind = iota
	KindBatch
)

func (k Kind) String() string {
	if k == KindBatch {
		return "batch"
	}
	return "simple"
}

type placeholder struct{}

// executionPlaceholder marks a session cache entry whose query is running.
var executionPlaceholder any = placeholder{}

// strategy performs the physical work behind the template.
type strategy interface {
	doUpdate(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any) (int64, error)
	doFlushStatements(ctx context.Context, e *Executor, rollback bool) ([]*BatchResult, error)
	doQuery(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, bound *mapping.BoundSQL) ([]any, error)
	doQueryCursor(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*resultset.Cursor, error)
}

// Interface assertion to ensure Executor can serve nested queries.
var _ resultset.Executor = (*Executor)(nil)

// Executor runs statements for one unit of work.
type Executor struct {
	id       string
	kind     Kind
	cfg      *mapping.Configuration
	tx       driver.Transaction
	strategy strategy
	wrapper  resultset.Executor
	logger   *slog.Logger

	localCache                *cache.PerpetualCache
	localOutputParameterCache *cache.PerpetualCache
	deferredLoads             []*deferredLoad
	queryStack                int
	closed                    bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the configuration logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithID sets the session id used in logs instead of a random one.
func WithID(id string) Option {
	return func(e *Executor) {
		if id != "" {
			e.id = id
		}
	}
}

// New returns an executor of the given kind over tx.
func New(cfg *mapping.Configuration, tx driver.Transaction, kind Kind, opts ...Option) *Executor {
	e := &Executor{
		id:                        uuid.NewString(),
		kind:                      kind,
		cfg:                       cfg,
		tx:                        tx,
		logger:                    cfg.Logger,
		localCache:                cache.NewPerpetualCache("LocalCache"),
		localOutputParameterCache: cache.NewPerpetualCache("LocalOutputParameterCache"),
	}
	switch kind {
	case KindBatch:
		e.strategy = &batchStrategy{}
	default:
		e.strategy = simpleStrategy{}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("executor", e.id, "strategy", kind.String())
	e.wrapper = e
	return e
}

// NewSimple returns an executor that runs each statement immediately.
func NewSimple(cfg *mapping.Configuration, tx driver.Transaction, opts ...Option) *Executor {
	return New(cfg, tx, KindSimple, opts...)
}

// NewBatch returns an executor that batches consecutive updates.
func NewBatch(cfg *mapping.Configuration, tx driver.Transaction, opts ...Option) *Executor {
	return New(cfg, tx, KindBatch, opts...)
}

// ID returns the session id.
func (e *Executor) ID() string {
	return e.id
}

// Kind returns the execution strategy.
func (e *Executor) Kind() Kind {
	return e.kind
}

// Configuration returns the configuration the executor was built with.
func (e *Executor) Configuration() *mapping.Configuration {
	return e.cfg
}

// Transaction returns the underlying transaction.
func (e *Executor) Transaction() (driver.Transaction, error) {
	if e.closed {
		return nil, errors.Wrap(ErrExecutorClosed, "transaction")
	}
	return e.tx, nil
}

// SetWrapper routes nested queries through w, usually a CachingExecutor
// wrapping e.
func (e *Executor) SetWrapper(w resultset.Executor) {
	e.wrapper = w
}

// IsClosed reports whether Close was called.
func (e *Executor) IsClosed() bool {
	return e.closed
}

// Update clears the session cache and runs a write statement. The batch
// strategy returns BatchUpdateReturnValue until the batch is flushed.
func (e *Executor) Update(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error) {
	if e.closed {
		return 0, errors.Wrap(ErrExecutorClosed, "update")
	}
	e.logger.Debug("executing update", "statement", ms.ID)
	e.ClearLocalCache()
	return e.strategy.doUpdate(ctx, e, ms, param)
}

// FlushStatements runs pending batched statements.
func (e *Executor) FlushStatements(ctx context.Context) ([]*BatchResult, error) {
	return e.flushStatements(ctx, false)
}

func (e *Executor) flushStatements(ctx context.Context, rollback bool) ([]*BatchResult, error) {
	if e.closed {
		return nil, errors.Wrap(ErrExecutorClosed, "flush statements")
	}
	return e.strategy.doFlushStatements(ctx, e, rollback)
}

// Query runs a select with a freshly computed cache key.
func (e *Executor) Query(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler) ([]any, error) {
	bound := ms.BoundSQL(param)
	key, err := e.CreateCacheKey(ms, param, bounds, bound)
	if err != nil {
		return nil, err
	}
	return e.QueryWithKey(ctx, ms, param, bounds, rh, key, bound)
}

// QueryWithKey runs a select, answering from the session cache when key
// holds a finished result and no result handler is given.
func (e *Executor) QueryWithKey(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, key *cache.Key, bound *mapping.BoundSQL) ([]any, error) {
	if e.closed {
		return nil, errors.Wrap(ErrExecutorClosed, "query")
	}
	if e.queryStack == 0 && ms.FlushCacheRequired {
		e.ClearLocalCache()
	}

	list, err := e.queryStacked(ctx, ms, param, bounds, rh, key, bound)
	if err != nil {
		return nil, err
	}

	if e.queryStack == 0 {
		loads := e.deferredLoads
		e.deferredLoads = nil
		for _, d := range loads {
			if err := d.load(); err != nil {
				return nil, err
			}
		}
		if e.cfg.LocalCacheScope == mapping.ScopeStatement {
			e.ClearLocalCache()
		}
	}
	return list, nil
}

func (e *Executor) queryStacked(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, key *cache.Key, bound *mapping.BoundSQL) ([]any, error) {
	e.queryStack++
	defer func() { e.queryStack-- }()

	if rh == nil {
		if cached, ok := e.localCache.Get(key); ok && cached != executionPlaceholder {
			e.logger.Debug("session cache hit", "statement", ms.ID)
			e.handleLocallyCachedOutputParameters(ms, key, param, bound)
			list, _ := cached.([]any)
			return list, nil
		}
	}
	return e.queryFromDatabase(ctx, ms, param, bounds, rh, key, bound)
}

func (e *Executor) queryFromDatabase(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, key *cache.Key, bound *mapping.BoundSQL) ([]any, error) {
	e.localCache.Put(key, executionPlaceholder)
	list, err := func() ([]any, error) {
		defer e.localCache.Remove(key)
		return e.strategy.doQuery(ctx, e, ms, param, bounds, rh, bound)
	}()
	if err != nil {
		if e.queryStack > 1 {
			return nil, err
		}
		return nil, errors.Wrapf(err, "query %s", ms.ID)
	}

	e.localCache.Put(key, list)
	if ms.Kind == mapping.Callable {
		e.localOutputParameterCache.Put(key, param)
	}
	return list, nil
}

func (e *Executor) handleLocallyCachedOutputParameters(ms *mapping.MappedStatement, key *cache.Key, param any, bound *mapping.BoundSQL) {
	if ms.Kind != mapping.Callable || param == nil {
		return
	}
	cached, ok := e.localOutputParameterCache.Get(key)
	if !ok || cached == nil {
		return
	}
	cachedMeta, err := e.cfg.NewMetaObject(cached)
	if err != nil {
		return
	}
	meta, err := e.cfg.NewMetaObject(param)
	if err != nil {
		return
	}
	for _, pm := range bound.ParameterMappings {
		if pm.Mode == mapping.In {
			continue
		}
		value, err := cachedMeta.Get(pm.Property)
		if err != nil {
			continue
		}
		if err := meta.Set(pm.Property, value); err != nil {
			e.logger.Warn("cannot replay cached output parameter", "statement", ms.ID, "property", pm.Property, "error", err)
		}
	}
}

// QueryCursor runs a select and returns a cursor over its objects. The
// session cache is bypassed.
func (e *Executor) QueryCursor(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds) (*resultset.Cursor, error) {
	if e.closed {
		return nil, errors.Wrap(ErrExecutorClosed, "query cursor")
	}
	bound := ms.BoundSQL(param)
	return e.strategy.doQueryCursor(ctx, e, ms, param, bounds, bound)
}

// DeferLoad sets property on meta from the cached result under key, now
// if the result is finished, otherwise once the outermost query returns.
func (e *Executor) DeferLoad(ms *mapping.MappedStatement, meta *reflection.MetaObject, property string, key *cache.Key, target reflect.Type) error {
	if e.closed {
		return errors.Wrap(ErrExecutorClosed, "defer load")
	}
	d := &deferredLoad{meta: meta, property: property, key: key, localCache: e.localCache, target: target}
	if d.canLoad() {
		return d.load()
	}
	e.deferredLoads = append(e.deferredLoads, d)
	return nil
}

// CreateCacheKey fingerprints a query from its id, row bounds, SQL text,
// input parameter values and environment id.
func (e *Executor) CreateCacheKey(ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*cache.Key, error) {
	if e.closed {
		return nil, errors.Wrap(ErrExecutorClosed, "create cache key")
	}
	key := cache.NewKey(ms.ID, bounds.Offset, bounds.Limit, bound.SQL)
	values := newParameterValues(e.cfg, param, bound)
	for _, pm := range bound.ParameterMappings {
		if pm.Mode == mapping.Out {
			continue
		}
		key.Update(values.get(pm.Property))
	}
	if e.cfg.EnvironmentID != "" {
		key.Update(e.cfg.EnvironmentID)
	}
	return key, nil
}

// IsCached reports whether the session cache has an entry for key, including
// one whose query is still running.
func (e *Executor) IsCached(_ *mapping.MappedStatement, key *cache.Key) bool {
	_, ok := e.localCache.Get(key)
	return ok
}

// ClearLocalCache empties the session caches.
func (e *Executor) ClearLocalCache() {
	if e.closed {
		return
	}
	e.localCache.Clear()
	e.localOutputParameterCache.Clear()
}

// Commit flushes pending statements and, when required, commits the
// transaction.
func (e *Executor) Commit(ctx context.Context, required bool) error {
	if e.closed {
		return errors.Wrap(ErrExecutorClosed, "cannot commit, transaction is already closed")
	}
	e.ClearLocalCache()
	if _, err := e.flushStatements(ctx, false); err != nil {
		return err
	}
	if required {
		return e.tx.Commit(ctx)
	}
	return nil
}

// Rollback discards pending statements and, when required, rolls back the
// transaction. It does nothing once closed.
func (e *Executor) Rollback(ctx context.Context, required bool) error {
	if e.closed {
		return nil
	}
	e.ClearLocalCache()
	_, flushErr := e.flushStatements(ctx, true)
	if required {
		if err := e.tx.Rollback(ctx); err != nil {
			return err
		}
	}
	return flushErr
}

// Close rolls back when forced, then releases the transaction. Failures are
// logged and the executor is closed regardless.
func (e *Executor) Close(ctx context.Context, forceRollback bool) {
	if e.closed {
		return
	}
	defer func() {
		e.deferredLoads = nil
		e.localCache.Clear()
		e.localOutputParameterCache.Clear()
		e.closed = true
	}()

	if err := e.Rollback(ctx, forceRollback); err != nil {
		e.logger.Warn("unexpected error on closing transaction", "error", err)
	}
	if e.tx != nil {
		if err := e.tx.Close(); err != nil {
			e.logger.Warn("unexpected error on closing transaction", "error", err)
		}
	}
}

func (e *Executor) conn(ctx context.Context) (driver.Conn, error) {
	return e.tx.Conn(ctx)
}
