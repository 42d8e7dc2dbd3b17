package resultset

import (
	"reflect"
	"strings"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/typehandler"
)

// RowSet wraps the current result set of a driver cursor with column
// lookups by name and per result map column classification.
type RowSet struct {
	rows     driver.Rows
	columns  []driver.Column
	names    []string
	index    map[string]int
	registry *typehandler.Registry

	handlers map[string]map[reflect.Type]typehandler.Handler
	mapped   map[string][]string
	unmapped map[string][]string
}

func newRowSet(rows driver.Rows, registry *typehandler.Registry) *RowSet {
	rs := &RowSet{
		rows:     rows,
		columns:  rows.Columns(),
		index:    make(map[string]int),
		registry: registry,
		handlers: make(map[string]map[reflect.Type]typehandler.Handler),
		mapped:   make(map[string][]string),
		unmapped: make(map[string][]string),
	}
	rs.names = make([]string, len(rs.columns))
	for i, c := range rs.columns {
		rs.names[i] = c.Name
		upper := strings.ToUpper(c.Name)
		if _, dup := rs.index[upper]; !dup {
			rs.index[upper] = i
		}
	}
	return rs
}

// ColumnNames returns the column labels in result order.
func (rs *RowSet) ColumnNames() []string {
	return rs.names
}

// Value returns the raw value of the named column in the current row, or
// nil when the column is absent.
func (rs *RowSet) Value(column string) any {
	i, ok := rs.index[strings.ToUpper(column)]
	if !ok {
		return nil
	}
	return rs.rows.Value(i)
}

// HasColumn reports whether the result set has the named column.
func (rs *RowSet) HasColumn(column string) bool {
	_, ok := rs.index[strings.ToUpper(column)]
	return ok
}

// DBType returns the database type name of a column.
func (rs *RowSet) DBType(column string) string {
	if i, ok := rs.index[strings.ToUpper(column)]; ok {
		return rs.columns[i].DBType
	}
	return ""
}

// TypeHandler picks the handler converting column into values of t. A nil
// or interface t uses the handler for the column's database type.
func (rs *RowSet) TypeHandler(t reflect.Type, column string) typehandler.Handler {
	column = strings.ToUpper(column)
	byType, ok := rs.handlers[column]
	if !ok {
		byType = make(map[reflect.Type]typehandler.Handler)
		rs.handlers[column] = byType
	}
	if h, ok := byType[t]; ok {
		return h
	}

	h := rs.resolveHandler(t, column)
	byType[t] = h
	return h
}

func (rs *RowSet) resolveHandler(t reflect.Type, column string) typehandler.Handler {
	if t != nil && t.Kind() != reflect.Interface && rs.registry.Has(t) {
		return rs.registry.Get(t)
	}
	if gt := rs.registry.GoTypeFor(rs.DBType(column)); gt != nil {
		return rs.registry.Get(gt)
	}
	return rs.registry.Unknown()
}

// CanMap reports whether column values can be stored in a property of t.
func (rs *RowSet) CanMap(t reflect.Type, column string) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Interface || rs.registry.Has(t) {
		return true
	}
	base := t
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	if gt := rs.registry.GoTypeFor(rs.DBType(column)); gt != nil {
		return gt.ConvertibleTo(base)
	}
	return false
}

// MappedColumns returns the columns rm maps explicitly under prefix.
func (rs *RowSet) MappedColumns(rm *mapping.ResultMap, prefix string) []string {
	key := rm.ID + ":" + prefix
	if _, ok := rs.mapped[key]; !ok {
		rs.classify(rm, prefix, key)
	}
	return rs.mapped[key]
}

// UnmappedColumns returns the columns rm does not map under prefix.
func (rs *RowSet) UnmappedColumns(rm *mapping.ResultMap, prefix string) []string {
	key := rm.ID + ":" + prefix
	if _, ok := rs.unmapped[key]; !ok {
		rs.classify(rm, prefix, key)
	}
	return rs.unmapped[key]
}

func (rs *RowSet) isMapped(rm *mapping.ResultMap, prefix, column string) bool {
	for _, c := range rs.MappedColumns(rm, prefix) {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

func (rs *RowSet) classify(rm *mapping.ResultMap, prefix, key string) {
	upperPrefix := strings.ToUpper(prefix)
	mapped := []string{}
	unmapped := []string{}
	for _, name := range rs.names {
		upper := strings.ToUpper(name)
		var ok bool
		switch {
		case upperPrefix == "":
			_, ok = rm.MappedColumns[upper]
		case strings.HasPrefix(upper, upperPrefix):
			_, ok = rm.MappedColumns[upper[len(upperPrefix):]]
		}
		if ok {
			mapped = append(mapped, name)
		} else {
			unmapped = append(unmapped, name)
		}
	}
	rs.mapped[key] = mapped
	rs.unmapped[key] = unmapped
}
