package resultset

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
)

// Executor is the part of the statement executor that nested queries run
// through while rows are assembled.
type Executor interface {
	QueryWithKey(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler ResultHandler, key *cache.Key, bound *mapping.BoundSQL) ([]any, error)
	CreateCacheKey(ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*cache.Key, error)
	IsCached(ms *mapping.MappedStatement, key *cache.Key) bool
	DeferLoad(ms *mapping.MappedStatement, meta *reflection.MetaObject, property string, key *cache.Key, target reflect.Type) error
	IsClosed() bool
}

// ResultLoader runs one nested query and shapes its rows for the property
// it fills.
type ResultLoader struct {
	executor Executor
	ms       *mapping.MappedStatement
	param    any
	target   reflect.Type
	key      *cache.Key
	bound    *mapping.BoundSQL
}

// NewResultLoader returns a loader for ms bound to param.
func NewResultLoader(exec Executor, ms *mapping.MappedStatement, param any, target reflect.Type, key *cache.Key, bound *mapping.BoundSQL) *ResultLoader {
	return &ResultLoader{executor: exec, ms: ms, param: param, target: target, key: key, bound: bound}
}

// Statement returns the nested statement.
func (l *ResultLoader) Statement() *mapping.MappedStatement {
	return l.ms
}

// LoadResult executes the nested query.
func (l *ResultLoader) LoadResult(ctx context.Context) (any, error) {
	list, err := l.executor.QueryWithKey(ctx, l.ms, l.param, mapping.DefaultRowBounds, nil, l.key, l.bound)
	if err != nil {
		return nil, err
	}
	return Extract(list, l.target)
}

// Extract shapes a result list for target: the list itself when assignable,
// a new slice for slice targets, otherwise the single element.
func Extract(list []any, target reflect.Type) (any, error) {
	if target == nil || reflect.TypeOf(list).AssignableTo(target) {
		return list, nil
	}
	if target.Kind() == reflect.Slice && target.Elem().Kind() != reflect.Uint8 {
		out := reflect.MakeSlice(target, 0, len(list))
		for _, v := range list {
			ev, err := elementValue(target.Elem(), v)
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, ev)
		}
		return out.Interface(), nil
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	}
	return nil, errors.Wrapf(ErrTooManyResults, "expected one result (or nil) to be returned, but found %d", len(list))
}

func elementValue(t reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		return rv, nil
	case rv.Kind() == reflect.Ptr && rv.Type().Elem().AssignableTo(t):
		return rv.Elem(), nil
	case rv.Type().ConvertibleTo(t):
		return rv.Convert(t), nil
	}
	return reflect.Value{}, errors.Errorf("cannot store %T in %s", v, t)
}

// LazyLoadable is implemented by result types that hold on to their lazy
// loaders and resolve properties on first access. Types that do not
// implement it get every lazy property loaded before they are returned.
type LazyLoadable interface {
	AttachLoaders(loaders *LoaderMap)
}

type loadPair struct {
	property string
	meta     *reflection.MetaObject
	loader   *ResultLoader
}

// LoaderMap holds the pending lazy loads of one result object, keyed by the
// upper cased first segment of the property path.
type LoaderMap struct {
	mu      sync.Mutex
	loaders map[string]*loadPair
}

func newLoaderMap() *LoaderMap {
	return &LoaderMap{loaders: make(map[string]*loadPair)}
}

func (m *LoaderMap) add(property string, meta *reflection.MetaObject, loader *ResultLoader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := loaderKey(property)
	if !strings.EqualFold(key, property) {
		if _, ok := m.loaders[key]; ok {
			return errors.Errorf("nested lazy loaded result property %q for query id %q already exists in the result map; the leftmost property of all lazy loaded properties must be the same", property, loader.ms.ID)
		}
	}
	m.loaders[key] = &loadPair{property: property, meta: meta, loader: loader}
	return nil
}

// Size returns the number of pending loads.
func (m *LoaderMap) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaders)
}

// Has reports whether property still has a pending load.
func (m *LoaderMap) Has(property string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaders[loaderKey(property)]
	return ok
}

// Properties lists the properties with pending loads.
func (m *LoaderMap) Properties() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loaders))
	for _, p := range m.loaders {
		out = append(out, p.property)
	}
	return out
}

// Load resolves one property. It returns false when nothing was pending.
func (m *LoaderMap) Load(ctx context.Context, property string) (bool, error) {
	m.mu.Lock()
	key := loaderKey(property)
	pair, ok := m.loaders[key]
	delete(m.loaders, key)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, pair.load(ctx)
}

// LoadAll resolves every pending property.
func (m *LoaderMap) LoadAll(ctx context.Context) error {
	for _, property := range m.Properties() {
		if _, err := m.Load(ctx, property); err != nil {
			return err
		}
	}
	return nil
}

func (p *loadPair) load(ctx context.Context) error {
	value, err := p.loader.LoadResult(ctx)
	if err != nil {
		return errors.Wrapf(err, "lazy load %s", p.property)
	}
	return p.meta.Set(p.property, value)
}

func loaderKey(property string) string {
	head, _, _ := strings.Cut(property, ".")
	return strings.ToUpper(head)
}
