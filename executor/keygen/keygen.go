// Package keygen copies database generated keys back onto the parameter
// objects of insert statements.
package keygen

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
	"github.com/goliatone/go-sqlexec/typehandler"
)

// ErrKeyPopulation wraps every failure to assign generated keys.
var ErrKeyPopulation = errors.New("error getting generated key or setting result to parameter object")

// NoKeys is a generator that does nothing.
type NoKeys struct{}

func (NoKeys) ProcessBefore(context.Context, *mapping.MappedStatement, any) error {
	return nil
}

func (NoKeys) ProcessAfter(context.Context, *mapping.MappedStatement, driver.Stmt, any) error {
	return nil
}

// GeneratedKeys reads the keys reported by the driver after an insert and
// sets them on the statement's KeyProperties.
type GeneratedKeys struct {
	Config *mapping.Configuration
}

// New returns a GeneratedKeys generator using cfg for conversions.
func New(cfg *mapping.Configuration) *GeneratedKeys {
	return &GeneratedKeys{Config: cfg}
}

func (g *GeneratedKeys) ProcessBefore(context.Context, *mapping.MappedStatement, any) error {
	return nil
}

// ProcessAfter assigns keys for a single execution whose parameter may hold
// several objects.
func (g *GeneratedKeys) ProcessAfter(ctx context.Context, ms *mapping.MappedStatement, stmt driver.Stmt, param any) error {
	return g.ProcessBatch(ctx, ms, stmt, parameters(param))
}

// ProcessBatch assigns one generated key row to each parameter, in order.
func (g *GeneratedKeys) ProcessBatch(_ context.Context, ms *mapping.MappedStatement, stmt driver.Stmt, params []any) error {
	if len(ms.KeyProperties) == 0 || len(params) == 0 {
		return nil
	}

	rows, err := stmt.GeneratedKeys()
	if err != nil {
		return errors.Wrap(ErrKeyPopulation, err.Error())
	}
	if rows == nil {
		return nil
	}
	defer rows.Close()

	columns := rows.Columns()
	if len(columns) < len(ms.KeyProperties) {
		return nil
	}

	var handlers []typehandler.Handler
	for _, param := range params {
		if !rows.Next() {
			break
		}
		meta, err := g.Config.NewMetaObject(param)
		if err != nil {
			return errors.Wrapf(ErrKeyPopulation, "%s: %v", ms.ID, err)
		}
		if handlers == nil {
			handlers = g.handlers(meta, ms.KeyProperties, columns)
		}
		if err := populate(meta, ms.KeyProperties, handlers, rows); err != nil {
			return errors.Wrapf(ErrKeyPopulation, "%s: %v", ms.ID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(ErrKeyPopulation, "%s: %v", ms.ID, err)
	}
	return nil
}

func (g *GeneratedKeys) handlers(meta *reflection.MetaObject, properties []string, columns []driver.Column) []typehandler.Handler {
	out := make([]typehandler.Handler, len(properties))
	for i, property := range properties {
		t := meta.SetterType(property)
		if t != nil && meta.HasSetter(property) && g.Config.TypeHandlers.HasFor(t, columns[i].DBType) {
			out[i] = g.Config.TypeHandlers.Get(t)
			continue
		}
		out[i] = g.Config.TypeHandlers.Unknown()
	}
	return out
}

func populate(meta *reflection.MetaObject, properties []string, handlers []typehandler.Handler, rows driver.Rows) error {
	for i, property := range properties {
		v, err := handlers[i].Result(rows.Value(i))
		if err != nil {
			return err
		}
		if err := meta.Set(property, v); err != nil {
			return err
		}
	}
	return nil
}

// parameters flattens a statement parameter into the objects that receive
// keys: slices yield their elements and maps holding a collection, list or
// array entry yield that entry's elements.
func parameters(param any) []any {
	if param == nil {
		return nil
	}
	if m, ok := param.(map[string]any); ok {
		for _, name := range []string{"collection", "list", "array"} {
			if v, ok := m[name]; ok {
				return elements(v)
			}
		}
		return []any{param}
	}
	return elements(param)
}

func elements(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Slice {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ev := rv.Index(i)
		if ev.Kind() == reflect.Struct && ev.CanAddr() {
			ev = ev.Addr()
		}
		out = append(out, ev.Interface())
	}
	return out
}

