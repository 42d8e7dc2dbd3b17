package mapping

import (
	"reflect"
	"strings"

	"github.com/goliatone/go-sqlexec/typehandler"
)

// MappingFlag marks special result mappings.
type MappingFlag uint8

const (
	// FlagID marks a column that identifies the row.
	FlagID MappingFlag = 1 << iota
	// FlagConstructor marks a constructor argument.
	FlagConstructor
)

// FetchType controls whether a nested query runs eagerly or lazily.
type FetchType int

const (
	FetchDefault FetchType = iota
	FetchLazy
	FetchEager
)

// ResultMapping maps one column, nested result map or nested query to a
// property or constructor argument.
type ResultMapping struct {
	Property    string
	Column      string
	GoType      reflect.Type
	DBType      string
	TypeHandler typehandler.Handler

	NestedResultMapID string
	NestedQueryID     string
	NotNullColumns    []string
	ColumnPrefix      string
	Flags             MappingFlag
	// Composites passes several columns to a nested query, each bound to
	// the property named by its Property field.
	Composites []ResultMapping
	// ResultSet names a later result set that supplies this property.
	// Column lists the parent columns and ForeignColumn the matching
	// columns of that result set, both comma separated.
	ResultSet     string
	ForeignColumn string
	Fetch         FetchType
}

// IsCompositeResult reports whether the mapping has composite columns.
func (m ResultMapping) IsCompositeResult() bool {
	return len(m.Composites) > 0
}

// IsLazy reports whether a nested query should be deferred.
func (m ResultMapping) IsLazy(lazyLoadingEnabled bool) bool {
	switch m.Fetch {
	case FetchLazy:
		return true
	case FetchEager:
		return false
	}
	return lazyLoadingEnabled
}

// Is reports whether f is set.
func (m ResultMapping) Is(f MappingFlag) bool {
	return m.Flags&f != 0
}

// Discriminator picks a result map from the value of one column.
type Discriminator struct {
	Mapping ResultMapping
	Cases   map[string]string
}

// MapIDFor returns the result map id for a discriminator value.
func (d *Discriminator) MapIDFor(value string) (string, bool) {
	id, ok := d.Cases[value]
	return id, ok
}

// ResultMap describes how rows become objects of Type.
type ResultMap struct {
	ID                  string
	Type                reflect.Type
	Mappings            []ResultMapping
	IDMappings          []ResultMapping
	ConstructorMappings []ResultMapping
	PropertyMappings    []ResultMapping
	MappedColumns       map[string]struct{}
	MappedProperties    map[string]struct{}
	Discriminator       *Discriminator
	HasNestedResultMaps bool
	HasNestedQueries    bool
	AutoMapping         *bool
}

// ResultMapOption configures NewResultMap.
type ResultMapOption func(*ResultMap)

// WithDiscriminator attaches a discriminator.
func WithDiscriminator(d *Discriminator) ResultMapOption {
	return func(rm *ResultMap) {
		rm.Discriminator = d
	}
}

// WithAutoMapping overrides the configured auto mapping behavior.
func WithAutoMapping(enabled bool) ResultMapOption {
	return func(rm *ResultMap) {
		rm.AutoMapping = &enabled
	}
}

// NewResultMap classifies mappings into id, constructor and property
// mappings and records the mapped column names in upper case.
func NewResultMap(id string, t reflect.Type, mappings []ResultMapping, opts ...ResultMapOption) *ResultMap {
	rm := &ResultMap{
		ID:               id,
		Type:             t,
		Mappings:         mappings,
		MappedColumns:    make(map[string]struct{}),
		MappedProperties: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(rm)
	}

	for _, m := range mappings {
		rm.HasNestedQueries = rm.HasNestedQueries || m.NestedQueryID != ""
		rm.HasNestedResultMaps = rm.HasNestedResultMaps || (m.NestedResultMapID != "" && m.ResultSet == "")

		if m.Column != "" {
			rm.MappedColumns[strings.ToUpper(m.Column)] = struct{}{}
		}
		for _, c := range m.Composites {
			if c.Column != "" {
				rm.MappedColumns[strings.ToUpper(c.Column)] = struct{}{}
			}
		}
		if m.Property != "" {
			rm.MappedProperties[m.Property] = struct{}{}
		}

		if m.Is(FlagConstructor) {
			rm.ConstructorMappings = append(rm.ConstructorMappings, m)
		} else {
			rm.PropertyMappings = append(rm.PropertyMappings, m)
		}
		if m.Is(FlagID) {
			rm.IDMappings = append(rm.IDMappings, m)
		}
	}
	if len(rm.IDMappings) == 0 {
		rm.IDMappings = append(rm.IDMappings, mappings...)
	}
	return rm
}

// ConstructorTypes returns the declared types of the constructor mappings.
func (rm *ResultMap) ConstructorTypes() []reflect.Type {
	out := make([]reflect.Type, len(rm.ConstructorMappings))
	for i, m := range rm.ConstructorMappings {
		out[i] = m.GoType
	}
	return out
}
