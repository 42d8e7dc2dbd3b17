package mapping

import (
	"math"
	"reflect"
	"strings"

	"github.com/goliatone/go-sqlexec/reflection"
	"github.com/goliatone/go-sqlexec/typehandler"
)

// RowBounds limits the rows handed to result handling.
type RowBounds struct {
	Offset int
	Limit  int
}

// DefaultRowBounds returns every row.
var DefaultRowBounds = RowBounds{Offset: 0, Limit: math.MaxInt32}

// IsDefault reports whether b selects every row.
func (b RowBounds) IsDefault() bool {
	return b == DefaultRowBounds
}

// StatementKind selects how a statement is sent to the driver.
type StatementKind int

const (
	Prepared StatementKind = iota
	Statement
	Callable
)

func (k StatementKind) String() string {
	switch k {
	case Statement:
		return "STATEMENT"
	case Callable:
		return "CALLABLE"
	}
	return "PREPARED"
}

// CommandType is the SQL command a statement runs.
type CommandType int

const (
	Unknown CommandType = iota
	Select
	Insert
	Update
	Delete
)

func (c CommandType) String() string {
	switch c {
	case Select:
		return "SELECT"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// ParameterMode is the direction of a statement parameter.
type ParameterMode int

const (
	In ParameterMode = iota
	Out
	InOut
)

// ParameterMapping binds one placeholder to a property of the parameter
// object. ResultMapID is used for OUT parameters that return a cursor.
type ParameterMapping struct {
	Property    string
	Mode        ParameterMode
	GoType      reflect.Type
	DBType      string
	TypeHandler typehandler.Handler
	ResultMapID string
}

// IsOutput reports whether the parameter is written back after a call.
func (p ParameterMapping) IsOutput() bool {
	return p.Mode == Out || p.Mode == InOut
}

// BoundSQL is the final SQL text of one statement execution together with
// its ordered parameter bindings.
type BoundSQL struct {
	SQL               string
	ParameterMappings []ParameterMapping
	Parameter         any
	additional        map[string]any
}

// NewBoundSQL returns a BoundSQL without additional parameters.
func NewBoundSQL(sql string, mappings []ParameterMapping, param any) *BoundSQL {
	return &BoundSQL{
		SQL:               sql,
		ParameterMappings: mappings,
		Parameter:         param,
		additional:        make(map[string]any),
	}
}

// SetAdditionalParameter stores a value generated while building the SQL.
func (b *BoundSQL) SetAdditionalParameter(name string, value any) {
	if b.additional == nil {
		b.additional = make(map[string]any)
	}
	b.additional[name] = value
}

// HasAdditionalParameter reports whether the first segment of a property
// path was set with SetAdditionalParameter.
func (b *BoundSQL) HasAdditionalParameter(name string) bool {
	head, _, _ := strings.Cut(name, ".")
	_, ok := b.additional[head]
	return ok
}

// AdditionalParameter resolves a property path against the additional
// parameters.
func (b *BoundSQL) AdditionalParameter(name string) any {
	head, rest, nested := strings.Cut(name, ".")
	v := b.additional[head]
	if !nested || v == nil {
		return v
	}
	meta, err := reflection.NewMetaObject(v, nil)
	if err != nil {
		return nil
	}
	out, err := meta.Get(rest)
	if err != nil {
		return nil
	}
	return out
}

// SQLSource produces the SQL for one parameter object.
type SQLSource interface {
	BoundSQL(param any) *BoundSQL
}

// StaticSQL is a fixed SQL text with fixed parameter mappings.
type StaticSQL struct {
	Text   string
	Params []ParameterMapping
}

// BoundSQL implements SQLSource.
func (s StaticSQL) BoundSQL(param any) *BoundSQL {
	return NewBoundSQL(s.Text, s.Params, param)
}

// Params is a shorthand for IN parameter mappings on the named properties.
func Params(properties ...string) []ParameterMapping {
	out := make([]ParameterMapping, len(properties))
	for i, p := range properties {
		out[i] = ParameterMapping{Property: p, Mode: In}
	}
	return out
}
