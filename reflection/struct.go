package reflection

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

type field struct {
	name  string
	index []int
	typ   reflect.Type
}

// metaClass indexes the exported fields of a struct type. Fields are found
// by case-insensitive name, by their snake_case form, or by the column name
// in a `bun` tag.
type metaClass struct {
	fields []field
	byName map[string]int
	bySnek map[string]int
	byFlat map[string]int
}

var metaClasses sync.Map // reflect.Type -> *metaClass

func metaClassOf(t reflect.Type) *metaClass {
	if mc, ok := metaClasses.Load(t); ok {
		return mc.(*metaClass)
	}

	mc := &metaClass{
		byName: make(map[string]int),
		bySnek: make(map[string]int),
		byFlat: make(map[string]int),
	}
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		i := len(mc.fields)
		mc.fields = append(mc.fields, field{name: sf.Name, index: sf.Index, typ: sf.Type})

		lower := strings.ToLower(sf.Name)
		mc.byName[lower] = i
		mc.bySnek[toSnake(sf.Name)] = i
		mc.byFlat[normalize(sf.Name)] = i

		if tag := sf.Tag.Get("bun"); tag != "" {
			column := strings.Split(tag, ",")[0]
			if column != "" && column != "-" {
				mc.byName[strings.ToLower(column)] = i
				mc.byFlat[normalize(column)] = i
			}
		}
	}

	actual, _ := metaClasses.LoadOrStore(t, mc)
	return actual.(*metaClass)
}

func (mc *metaClass) find(name string, camelCase bool) (field, bool) {
	lower := strings.ToLower(name)
	if i, ok := mc.byName[lower]; ok {
		return mc.fields[i], true
	}
	if camelCase {
		if i, ok := mc.bySnek[lower]; ok {
			return mc.fields[i], true
		}
		if i, ok := mc.byFlat[normalize(name)]; ok {
			return mc.fields[i], true
		}
	}
	return field{}, false
}

func (mc *metaClass) names() []string {
	out := make([]string, len(mc.fields))
	for i, f := range mc.fields {
		out[i] = f.name
	}
	return out
}

// structWrapper accesses the exported fields of an addressable struct.
type structWrapper struct {
	value reflect.Value
	class *metaClass
}

func newStructWrapper(v reflect.Value) *structWrapper {
	return &structWrapper{value: v, class: metaClassOf(v.Type())}
}

func (w *structWrapper) field(name string) (reflect.Value, field, error) {
	f, ok := w.class.find(name, false)
	if !ok {
		return reflect.Value{}, field{}, errors.Wrapf(ErrNoSuchProperty, "%s.%s", w.value.Type(), name)
	}
	fv, err := w.value.FieldByIndexErr(f.index)
	if err != nil {
		return reflect.Value{}, field{}, errors.Wrapf(err, "%s.%s", w.value.Type(), name)
	}
	return fv, f, nil
}

func (w *structWrapper) get(name string) (any, error) {
	fv, _, err := w.field(name)
	if err != nil {
		return nil, err
	}
	if isNilable(fv.Kind()) && fv.IsNil() {
		return nil, nil
	}
	return fv.Interface(), nil
}

func (w *structWrapper) set(name string, v any) error {
	fv, f, err := w.field(name)
	if err != nil {
		return err
	}
	if !fv.CanSet() {
		return errors.Wrapf(ErrNoSuchProperty, "%s.%s is not settable", w.value.Type(), name)
	}
	rv, err := valueFor(f.typ, v)
	if err != nil {
		return errors.Wrapf(err, "set %s.%s", w.value.Type(), name)
	}
	fv.Set(rv)
	return nil
}

// child returns nested structs by address so paths can be set through them.
func (w *structWrapper) child(name string) (any, error) {
	fv, _, err := w.field(name)
	if err != nil {
		return nil, err
	}
	if fv.Kind() == reflect.Struct && fv.CanAddr() {
		return fv.Addr().Interface(), nil
	}
	if isNilable(fv.Kind()) && fv.IsNil() {
		return nil, nil
	}
	return fv.Interface(), nil
}

func (w *structWrapper) hasGetter(name string) bool {
	_, ok := w.class.find(name, false)
	return ok
}

func (w *structWrapper) hasSetter(name string) bool {
	return w.hasGetter(name) && w.value.CanAddr()
}

func (w *structWrapper) setterType(name string) reflect.Type {
	f, ok := w.class.find(name, false)
	if !ok {
		return nil
	}
	return f.typ
}

func (w *structWrapper) findProperty(name string, camelCase bool) string {
	f, ok := w.class.find(name, camelCase)
	if !ok {
		return ""
	}
	return f.name
}

func (w *structWrapper) names() []string {
	return w.class.names()
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
