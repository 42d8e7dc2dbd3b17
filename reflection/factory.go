package reflection

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoConstructor is returned when no registered constructor matches the
// requested argument types.
var ErrNoConstructor = errors.New("no matching constructor")

// Constructor builds a value of a type from positional arguments.
type Constructor struct {
	Params []reflect.Type
	New    func(args []any) (any, error)
}

// ObjectFactory instantiates result objects. Structs are always returned by
// pointer so that later property writes are visible to every holder.
type ObjectFactory struct {
	mu    sync.RWMutex
	ctors map[reflect.Type][]Constructor
}

// NewObjectFactory returns a factory with no registered constructors.
func NewObjectFactory() *ObjectFactory {
	return &ObjectFactory{ctors: make(map[reflect.Type][]Constructor)}
}

// RegisterConstructor adds a constructor for t. Registering any constructor
// with parameters means t is no longer built from its zero value.
func (f *ObjectFactory) RegisterConstructor(t reflect.Type, params []reflect.Type, fn func(args []any) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t = baseType(t)
	f.ctors[t] = append(f.ctors[t], Constructor{Params: params, New: fn})
}

// Constructors returns the constructors registered for t.
func (f *ObjectFactory) Constructors(t reflect.Type) []Constructor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Constructor(nil), f.ctors[baseType(t)]...)
}

// HasDefaultConstructor reports whether t can be built without arguments.
func (f *ObjectFactory) HasDefaultConstructor(t reflect.Type) bool {
	if t == nil {
		return false
	}
	ctors := f.Constructors(t)
	if len(ctors) > 0 {
		for _, c := range ctors {
			if len(c.Params) == 0 {
				return true
			}
		}
		return false
	}
	switch baseType(t).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Interface:
		return true
	}
	return false
}

// IsCollection reports whether t is a slice that results can be appended to.
func (f *ObjectFactory) IsCollection(t reflect.Type) bool {
	return isCollectionType(t)
}

// Create returns a new empty value of t. Struct types yield *T, the empty
// interface yields an *OrderedRow.
func (f *ObjectFactory) Create(t reflect.Type) any {
	for _, c := range f.Constructors(t) {
		if len(c.Params) == 0 {
			if v, err := c.New(nil); err == nil {
				return v
			}
		}
	}

	switch t.Kind() {
	case reflect.Ptr:
		return reflect.New(t.Elem()).Interface()
	case reflect.Struct:
		return reflect.New(t).Interface()
	case reflect.Map:
		return reflect.MakeMap(t).Interface()
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface()
	case reflect.Interface:
		return NewOrderedRow()
	}
	return reflect.Zero(t).Interface()
}

// CreateWith builds t through the registered constructor whose parameter
// types equal argTypes.
func (f *ObjectFactory) CreateWith(t reflect.Type, argTypes []reflect.Type, args []any) (any, error) {
	for _, c := range f.Constructors(t) {
		if !sameTypes(c.Params, argTypes) {
			continue
		}
		v, err := c.New(args)
		if err != nil {
			return nil, errors.Wrapf(err, "construct %s", t)
		}
		return v, nil
	}
	return nil, errors.Wrapf(ErrNoConstructor, "%s%v", t, argTypes)
}

func sameTypes(a, b []reflect.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func baseType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}
