// Package reflection reads and writes named properties on result objects.
//
// A MetaObject wraps one target and dispatches to the first accessor that
// fits it:
//
//   - types implementing Accessible supply their own property table
//   - *OrderedRow and map[string]any are addressed by key
//   - pointers to structs fall back to their exported fields
//   - pointers to slices act as collections and only support Add
//
// Property names may be dotted paths ("author.name"); intermediate values are
// created through the ObjectFactory when a path is set.
package reflection

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoSuchProperty is returned for names the target does not expose.
	ErrNoSuchProperty = errors.New("no such property")
	// ErrUnsupportedObject is returned for targets no accessor understands.
	ErrUnsupportedObject = errors.New("unsupported object")
	// ErrNotCollection is returned when Add is called on a non-collection.
	ErrNotCollection = errors.New("object is not a collection")
)

type wrapper interface {
	get(name string) (any, error)
	set(name string, v any) error
	child(name string) (any, error)
	hasGetter(name string) bool
	hasSetter(name string) bool
	setterType(name string) reflect.Type
	findProperty(name string, camelCase bool) string
	names() []string
}

// MetaObject gives name based access to the properties of one object.
type MetaObject struct {
	original   any
	factory    *ObjectFactory
	w          wrapper
	collection reflect.Value
}

// NewMetaObject wraps obj. A nil factory uses a fresh ObjectFactory.
func NewMetaObject(obj any, factory *ObjectFactory) (*MetaObject, error) {
	if factory == nil {
		factory = NewObjectFactory()
	}
	m := &MetaObject{original: obj, factory: factory}

	switch o := obj.(type) {
	case nil:
		return nil, errors.Wrap(ErrUnsupportedObject, "nil")
	case Accessible:
		m.w = newAccessibleWrapper(o)
		return m, nil
	case *OrderedRow:
		m.w = &rowWrapper{row: o}
		return m, nil
	case map[string]any:
		m.w = &mapWrapper{m: o}
		return m, nil
	}

	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, errors.Wrapf(ErrUnsupportedObject, "%T", obj)
	}
	switch rv.Elem().Kind() {
	case reflect.Struct:
		m.w = newStructWrapper(rv.Elem())
	case reflect.Slice:
		m.collection = rv.Elem()
	default:
		return nil, errors.Wrapf(ErrUnsupportedObject, "%T", obj)
	}
	return m, nil
}

// Original returns the wrapped object.
func (m *MetaObject) Original() any {
	return m.original
}

// IsCollection reports whether the wrapped object is a pointer to a slice.
func (m *MetaObject) IsCollection() bool {
	return m.collection.IsValid()
}

// Add appends elem to a wrapped collection.
func (m *MetaObject) Add(elem any) error {
	if !m.IsCollection() {
		return errors.Wrapf(ErrNotCollection, "%T", m.original)
	}
	ev, err := valueFor(m.collection.Type().Elem(), elem)
	if err != nil {
		return err
	}
	m.collection.Set(reflect.Append(m.collection, ev))
	return nil
}

// Get returns the value of a property. Missing intermediate values in a
// dotted path yield nil.
func (m *MetaObject) Get(name string) (any, error) {
	head, rest, nested := strings.Cut(name, ".")
	if m.w == nil {
		return nil, errors.Wrapf(ErrNoSuchProperty, "%T.%s", m.original, name)
	}
	if !nested {
		return m.w.get(name)
	}
	v, err := m.w.child(head)
	if err != nil || v == nil {
		return nil, err
	}
	child, err := NewMetaObject(v, m.factory)
	if err != nil {
		return nil, err
	}
	return child.Get(rest)
}

// Set assigns a property, creating intermediate objects of a dotted path.
func (m *MetaObject) Set(name string, v any) error {
	if m.w == nil {
		return errors.Wrapf(ErrNoSuchProperty, "%T.%s", m.original, name)
	}
	head, rest, nested := strings.Cut(name, ".")
	if !nested {
		return m.w.set(name, v)
	}

	current, err := m.w.child(head)
	if err != nil {
		return err
	}
	if current == nil {
		if v == nil {
			return nil
		}
		t := m.w.setterType(head)
		if t == nil || t == anyType {
			current = NewOrderedRow()
		} else {
			current = m.factory.Create(t)
		}
		if err := m.w.set(head, current); err != nil {
			return err
		}
		if current, err = m.w.child(head); err != nil {
			return err
		}
	}
	child, err := NewMetaObject(current, m.factory)
	if err != nil {
		return err
	}
	return child.Set(rest, v)
}

// Append adds elem to the slice held by property, creating the slice when
// it is nil.
func (m *MetaObject) Append(property string, elem any) error {
	t := m.SetterType(property)
	if !isCollectionType(t) {
		return errors.Wrapf(ErrNotCollection, "%T.%s", m.original, property)
	}
	current, err := m.Get(property)
	if err != nil {
		return err
	}
	sv := reflect.MakeSlice(t, 0, 1)
	if current != nil {
		sv = reflect.ValueOf(current)
	}
	ev, err := valueFor(t.Elem(), elem)
	if err != nil {
		return err
	}
	return m.Set(property, reflect.Append(sv, ev).Interface())
}

// HasGetter reports whether name can be read.
func (m *MetaObject) HasGetter(name string) bool {
	return m.resolve(name, func(w wrapper, last string) bool { return w.hasGetter(last) })
}

// HasSetter reports whether name can be written.
func (m *MetaObject) HasSetter(name string) bool {
	return m.resolve(name, func(w wrapper, last string) bool { return w.hasSetter(last) })
}

// SetterType returns the declared type of a property, or nil when unknown.
func (m *MetaObject) SetterType(name string) reflect.Type {
	var out reflect.Type
	m.resolve(name, func(w wrapper, last string) bool {
		out = w.setterType(last)
		return out != nil
	})
	return out
}

// FindProperty returns the canonical property name matching name, or "" when
// nothing matches. With camelCase set, underscores in name are ignored.
func (m *MetaObject) FindProperty(name string, camelCase bool) string {
	if m.w == nil {
		return ""
	}
	return m.w.findProperty(name, camelCase)
}

// Names lists the properties of the wrapped object.
func (m *MetaObject) Names() []string {
	if m.w == nil {
		return nil
	}
	return m.w.names()
}

func (m *MetaObject) resolve(name string, fn func(w wrapper, last string) bool) bool {
	if m.w == nil {
		return false
	}
	head, rest, nested := strings.Cut(name, ".")
	if !nested {
		return fn(m.w, name)
	}
	if !m.w.hasGetter(head) {
		return false
	}
	v, err := m.w.child(head)
	if err != nil {
		return false
	}
	if v == nil {
		t := m.w.setterType(head)
		if t == nil || t == anyType {
			return fn(&rowWrapper{row: NewOrderedRow()}, rest)
		}
		v = m.factory.Create(t)
	}
	child, err := NewMetaObject(v, m.factory)
	if err != nil {
		return false
	}
	return child.resolve(rest, fn)
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()
