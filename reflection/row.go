package reflection

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// OrderedRow is a name to value mapping that remembers insertion order. It
// is the target for result maps without a declared type.
type OrderedRow struct {
	keys   []string
	values map[string]any
}

// NewOrderedRow returns an empty row.
func NewOrderedRow() *OrderedRow {
	return &OrderedRow{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (r *OrderedRow) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Set stores value under key, keeping the original position of existing keys.
func (r *OrderedRow) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Keys returns the keys in insertion order.
func (r *OrderedRow) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of keys.
func (r *OrderedRow) Len() int {
	return len(r.keys)
}

// Map copies the row into a plain map.
func (r *OrderedRow) Map() map[string]any {
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		out[k] = r.values[k]
	}
	return out
}

// MarshalJSON writes the row as an object with keys in insertion order.
func (r *OrderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type rowWrapper struct {
	row *OrderedRow
}

func (w *rowWrapper) get(name string) (any, error) {
	v, _ := w.row.Get(name)
	return v, nil
}

func (w *rowWrapper) set(name string, v any) error {
	w.row.Set(name, v)
	return nil
}

func (w *rowWrapper) child(name string) (any, error) {
	return w.get(name)
}

func (w *rowWrapper) hasGetter(string) bool { return true }
func (w *rowWrapper) hasSetter(string) bool { return true }

func (w *rowWrapper) setterType(name string) reflect.Type {
	if v, ok := w.row.Get(name); ok && v != nil {
		return reflect.TypeOf(v)
	}
	return anyType
}

func (w *rowWrapper) findProperty(name string, _ bool) string {
	return name
}

func (w *rowWrapper) names() []string {
	return w.row.Keys()
}

type mapWrapper struct {
	m map[string]any
}

func (w *mapWrapper) get(name string) (any, error) {
	return w.m[name], nil
}

func (w *mapWrapper) set(name string, v any) error {
	w.m[name] = v
	return nil
}

func (w *mapWrapper) child(name string) (any, error) {
	return w.m[name], nil
}

func (w *mapWrapper) hasGetter(string) bool { return true }
func (w *mapWrapper) hasSetter(string) bool { return true }

func (w *mapWrapper) setterType(name string) reflect.Type {
	if v := w.m[name]; v != nil {
		return reflect.TypeOf(v)
	}
	return anyType
}

func (w *mapWrapper) findProperty(name string, _ bool) string {
	return name
}

func (w *mapWrapper) names() []string {
	out := make([]string, 0, len(w.m))
	for k := range w.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Property is one entry of an Accessible property table. Set may be nil for
// read-only properties.
type Property struct {
	Name string
	Type reflect.Type
	Get  func() any
	Set  func(v any) error
}

// Accessible is implemented by types that expose their own property table
// instead of being inspected with reflection.
type Accessible interface {
	Properties() []Property
}

type accessibleWrapper struct {
	props []Property
	index map[string]int
	flat  map[string]int
}

func newAccessibleWrapper(a Accessible) *accessibleWrapper {
	w := &accessibleWrapper{
		props: a.Properties(),
		index: make(map[string]int),
		flat:  make(map[string]int),
	}
	for i, p := range w.props {
		w.index[strings.ToLower(p.Name)] = i
		w.flat[normalize(p.Name)] = i
	}
	return w
}

func (w *accessibleWrapper) lookup(name string) (Property, bool) {
	i, ok := w.index[strings.ToLower(name)]
	if !ok {
		return Property{}, false
	}
	return w.props[i], true
}

func (w *accessibleWrapper) get(name string) (any, error) {
	p, ok := w.lookup(name)
	if !ok || p.Get == nil {
		return nil, ErrNoSuchProperty
	}
	return p.Get(), nil
}

func (w *accessibleWrapper) set(name string, v any) error {
	p, ok := w.lookup(name)
	if !ok || p.Set == nil {
		return ErrNoSuchProperty
	}
	if p.Type != nil {
		rv, err := valueFor(p.Type, v)
		if err != nil {
			return err
		}
		v = rv.Interface()
	}
	return p.Set(v)
}

func (w *accessibleWrapper) child(name string) (any, error) {
	return w.get(name)
}

func (w *accessibleWrapper) hasGetter(name string) bool {
	p, ok := w.lookup(name)
	return ok && p.Get != nil
}

func (w *accessibleWrapper) hasSetter(name string) bool {
	p, ok := w.lookup(name)
	return ok && p.Set != nil
}

func (w *accessibleWrapper) setterType(name string) reflect.Type {
	p, ok := w.lookup(name)
	if !ok {
		return nil
	}
	if p.Type == nil {
		return anyType
	}
	return p.Type
}

func (w *accessibleWrapper) findProperty(name string, camelCase bool) string {
	if p, ok := w.lookup(name); ok {
		return p.Name
	}
	if camelCase {
		if i, ok := w.flat[normalize(name)]; ok {
			return w.props[i].Name
		}
	}
	return ""
}

func (w *accessibleWrapper) names() []string {
	out := make([]string, len(w.props))
	for i, p := range w.props {
		out[i] = p.Name
	}
	return out
}
