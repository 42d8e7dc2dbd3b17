package testsupport

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-sqlexec/driver"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// Numbers are decoded as json.Number.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	dec := json.NewDecoder(bytes.NewReader(LoadFixture(t, path)))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// ColumnFixture is one column of a result set fixture.
type ColumnFixture struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultSetFixture is a result set stored as JSON:
//
//	{"columns": [{"name": "id", "type": "INTEGER"}], "rows": [[1], [2]]}
type ResultSetFixture struct {
	Columns []ColumnFixture `json:"columns"`
	Rows    [][]any         `json:"rows"`
}

// ResultSet converts the fixture. Whole numbers become int64 and other
// numbers float64.
func (f ResultSetFixture) ResultSet() driver.ResultSet {
	rs := driver.ResultSet{Columns: make([]driver.Column, len(f.Columns))}
	for i, c := range f.Columns {
		rs.Columns[i] = driver.Column{Name: c.Name, DBType: c.Type}
	}
	for _, row := range f.Rows {
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = number(v)
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs
}

func number(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// LoadResultSets loads a fixture file holding a JSON array of result sets.
func LoadResultSets(t testing.TB, path string) []driver.ResultSet {
	t.Helper()

	var fixtures []ResultSetFixture
	LoadFixtureJSON(t, path, &fixtures)
	out := make([]driver.ResultSet, len(fixtures))
	for i, f := range fixtures {
		out[i] = f.ResultSet()
	}
	return out
}

// Table builds a result set inline: Table([]string{"id", "name"}, []any{1, "a"}).
func Table(columns []string, rows ...[]any) driver.ResultSet {
	rs := driver.ResultSet{Columns: make([]driver.Column, len(columns))}
	for i, name := range columns {
		rs.Columns[i] = driver.Column{Name: name}
	}
	rs.Rows = rows
	return rs
}
