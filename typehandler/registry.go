// Package typehandler converts raw column values into typed Go values.
package typehandler

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Handler converts a driver value into a value of GoType. A nil input always
// yields nil.
type Handler interface {
	GoType() reflect.Type
	Result(value any) (any, error)
}

// Func adapts a conversion function into a Handler.
type Func struct {
	Type    reflect.Type
	Convert func(value any) (any, error)
}

// GoType implements Handler.
func (f Func) GoType() reflect.Type {
	return f.Type
}

// Result implements Handler.
func (f Func) Result(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	out, err := f.Convert(value)
	if err != nil {
		return nil, errors.Wrapf(err, "convert %T to %s", value, f.Type)
	}
	return out, nil
}

// Registry maps Go types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]Handler
	dbTypes  map[string]reflect.Type
	unknown  Handler
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// NewRegistry returns a registry with handlers for the builtin scalar types,
// time.Time and []byte.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[reflect.Type]Handler),
		dbTypes:  make(map[string]reflect.Type),
		unknown:  Func{Type: anyType, Convert: unknownResult},
	}

	register := func(sample any, fn func(any) (any, error)) {
		r.handlers[reflect.TypeOf(sample)] = Func{Type: reflect.TypeOf(sample), Convert: fn}
	}

	register("", func(v any) (any, error) { return cast.ToStringE(v) })
	register(false, func(v any) (any, error) { return cast.ToBoolE(v) })
	register(int(0), func(v any) (any, error) { return cast.ToIntE(v) })
	register(int8(0), func(v any) (any, error) { return cast.ToInt8E(v) })
	register(int16(0), func(v any) (any, error) { return cast.ToInt16E(v) })
	register(int32(0), func(v any) (any, error) { return cast.ToInt32E(v) })
	register(int64(0), func(v any) (any, error) { return cast.ToInt64E(v) })
	register(uint(0), func(v any) (any, error) { return cast.ToUintE(v) })
	register(uint8(0), func(v any) (any, error) { return cast.ToUint8E(v) })
	register(uint16(0), func(v any) (any, error) { return cast.ToUint16E(v) })
	register(uint32(0), func(v any) (any, error) { return cast.ToUint32E(v) })
	register(uint64(0), func(v any) (any, error) { return cast.ToUint64E(v) })
	register(float32(0), func(v any) (any, error) { return cast.ToFloat32E(v) })
	register(float64(0), func(v any) (any, error) { return cast.ToFloat64E(v) })
	register(time.Time{}, func(v any) (any, error) { return cast.ToTimeE(v) })
	register([]byte(nil), bytesResult)

	for _, name := range []string{"INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "INT8", "INT4", "SERIAL", "BIGSERIAL"} {
		r.dbTypes[name] = reflect.TypeOf(int64(0))
	}
	for _, name := range []string{"TEXT", "VARCHAR", "CHAR", "CLOB", "UUID", "NVARCHAR"} {
		r.dbTypes[name] = reflect.TypeOf("")
	}
	for _, name := range []string{"REAL", "FLOAT", "DOUBLE", "NUMERIC", "DECIMAL", "FLOAT8", "FLOAT4"} {
		r.dbTypes[name] = reflect.TypeOf(float64(0))
	}
	for _, name := range []string{"BOOLEAN", "BOOL"} {
		r.dbTypes[name] = reflect.TypeOf(false)
	}
	for _, name := range []string{"DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ"} {
		r.dbTypes[name] = reflect.TypeOf(time.Time{})
	}
	r.dbTypes["BLOB"] = reflect.TypeOf([]byte(nil))
	r.dbTypes["BYTEA"] = reflect.TypeOf([]byte(nil))

	return r
}

// Register installs h for its GoType, replacing any previous handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.GoType()] = h
}

// RegisterDBType associates a database type name with a Go type.
func (r *Registry) RegisterDBType(name string, t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbTypes[strings.ToUpper(name)] = t
}

// Has reports whether t (or the type it points to) has a handler.
func (r *Registry) Has(t reflect.Type) bool {
	return r.lookup(t) != nil
}

// HasFor reports whether a column of dbType can be converted straight into t.
// Unknown database types defer to Has.
func (r *Registry) HasFor(t reflect.Type, dbType string) bool {
	if !r.Has(t) {
		return false
	}
	goType := r.GoTypeFor(dbType)
	if goType == nil {
		return true
	}
	return goType.ConvertibleTo(indirect(t)) || indirect(t) == reflect.TypeOf("")
}

// Get returns the handler for t, or the unknown handler when none matches.
func (r *Registry) Get(t reflect.Type) Handler {
	if h := r.lookup(t); h != nil {
		return h
	}
	return r.unknown
}

// Unknown returns the pass-through handler.
func (r *Registry) Unknown() Handler {
	return r.unknown
}

// GoTypeFor returns the Go type usually produced by a database type name.
func (r *Registry) GoTypeFor(dbType string) reflect.Type {
	if dbType == "" {
		return nil
	}
	name := strings.ToUpper(dbType)
	if i := strings.IndexByte(name, '('); i > 0 {
		name = name[:i]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dbTypes[strings.TrimSpace(name)]
}

func (r *Registry) lookup(t reflect.Type) Handler {
	if t == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[t]; ok {
		return h
	}
	if t.Kind() == reflect.Ptr {
		if h, ok := r.handlers[t.Elem()]; ok {
			return h
		}
	}
	return nil
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

func unknownResult(v any) (any, error) {
	return v, nil
}

func bytesResult(v any) (any, error) {
	switch b := v.(type) {
	case []byte:
		return append([]byte(nil), b...), nil
	case string:
		return []byte(b), nil
	}
	return nil, errors.Errorf("cannot convert %T to []byte", v)
}
