package reflection

import (
	"reflect"

	"github.com/pkg/errors"
)

// ErrNotAssignable is returned when a value cannot be stored in a property.
var ErrNotAssignable = errors.New("value not assignable")

// valueFor converts v so it can be stored in a location of type t. Pointers
// are taken or dereferenced as needed and numeric kinds are converted.
func valueFor(t reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}

	src := reflect.ValueOf(v)
	st := src.Type()

	switch {
	case st.AssignableTo(t):
		return src, nil
	case t.Kind() == reflect.Ptr && st.AssignableTo(t.Elem()):
		p := reflect.New(t.Elem())
		p.Elem().Set(src)
		return p, nil
	case st.Kind() == reflect.Ptr && !src.IsNil() && st.Elem().AssignableTo(t):
		return src.Elem(), nil
	case convertible(st, t):
		return src.Convert(t), nil
	case t.Kind() == reflect.Ptr && convertible(st, t.Elem()):
		p := reflect.New(t.Elem())
		p.Elem().Set(src.Convert(t.Elem()))
		return p, nil
	}
	return reflect.Value{}, errors.Wrapf(ErrNotAssignable, "%s to %s", st, t)
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	// int -> string converts to a rune in Go, which is never what a column means
	if to.Kind() == reflect.String && isNumeric(from.Kind()) {
		return false
	}
	return true
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isCollectionType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	return t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8
}
