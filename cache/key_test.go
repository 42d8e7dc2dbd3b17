package cache

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
)

func TestKey_Equality(t *testing.T) {
	fn := func() {}

	tests := []struct {
		name  string
		a     *Key
		b     *Key
		equal bool
	}{
		{
			name:  "identical statement inputs",
			a:     NewKey("stmt.select", 0, math.MaxInt32, "SELECT * FROM t WHERE id=?", 5, "envA"),
			b:     NewKey("stmt.select", 0, math.MaxInt32, "SELECT * FROM t WHERE id=?", 5, "envA"),
			equal: true,
		},
		{
			name:  "different parameter value",
			a:     NewKey("stmt.select", 0, math.MaxInt32, "SELECT * FROM t WHERE id=?", 5, "envA"),
			b:     NewKey("stmt.select", 0, math.MaxInt32, "SELECT * FROM t WHERE id=?", 6, "envA"),
			equal: false,
		},
		{
			name:  "different environment",
			a:     NewKey("stmt.select", 0, math.MaxInt32, "SELECT 1", "envA"),
			b:     NewKey("stmt.select", 0, math.MaxInt32, "SELECT 1", "envB"),
			equal: false,
		},
		{
			name:  "integer widths",
			a:     NewKey("id", 5),
			b:     NewKey("id", int64(5)),
			equal: true,
		},
		{
			name:  "order sensitive",
			a:     NewKey("a", "b"),
			b:     NewKey("b", "a"),
			equal: false,
		},
		{
			name:  "nil position matters",
			a:     NewKey(nil, "x"),
			b:     NewKey("x", nil),
			equal: false,
		},
		{
			name:  "different length",
			a:     NewKey("a"),
			b:     NewKey("a", "a"),
			equal: false,
		},
		{
			name:  "maps with the same entries",
			a:     NewKey(map[string]any{"a": 1, "b": "two", "c": 3.5}),
			b:     NewKey(map[string]any{"c": 3.5, "b": "two", "a": 1}),
			equal: true,
		},
		{
			name:  "string and number differ",
			a:     NewKey("5"),
			b:     NewKey(5),
			equal: false,
		},
		{
			name:  "unencodable values fall back to text",
			a:     NewKey("callback", fn),
			b:     NewKey("callback", fn),
			equal: true,
		},
		{
			name:  "nested keys",
			a:     NewKey("child", NewKey("parent", 1)),
			b:     NewKey("child", NewKey("parent", int64(1))),
			equal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal() = %v, want %v", got, tt.equal)
			}
			if got := tt.b.Equal(tt.a); got != tt.equal {
				t.Errorf("Equal() is not symmetric")
			}
			if tt.equal {
				if tt.a.Hash() != tt.b.Hash() {
					t.Errorf("equal keys must hash alike: %d vs %d", tt.a.Hash(), tt.b.Hash())
				}
				if tt.a.String() != tt.b.String() {
					t.Errorf("equal keys must render alike: %q vs %q", tt.a.String(), tt.b.String())
				}
			} else if tt.a.String() == tt.b.String() {
				t.Errorf("different keys rendered alike: %q", tt.a.String())
			}
		})
	}
}

func TestKey_Count(t *testing.T) {
	k := NewKey()
	if k.Count() != 0 {
		t.Errorf("expected empty key, got %d contributions", k.Count())
	}
	k.Update("a")
	k.UpdateAll(1, nil, 2.5)
	if k.Count() != 4 {
		t.Errorf("expected 4 contributions, got %d", k.Count())
	}
	values := k.Values()
	if len(values) != 4 || values[0] != "a" || values[2] != nil {
		t.Errorf("unexpected values %v", values)
	}
	values[0] = "changed"
	if k.Values()[0] != "a" {
		t.Error("Values() should return a copy")
	}
}

func TestNullKey(t *testing.T) {
	if !NullKey.IsNull() {
		t.Error("NullKey should report IsNull")
	}
	var missing *Key
	if !missing.IsNull() {
		t.Error("a nil key should report IsNull")
	}
	if NullKey.String() != "null" || NullKey.Describe() != "null" {
		t.Errorf("unexpected rendering %q / %q", NullKey.String(), NullKey.Describe())
	}
	for _, degenerate := range []*Key{NewKey(), NewKey("blog.blog")} {
		if !NullKey.Equal(degenerate) || !degenerate.Equal(NullKey) {
			t.Errorf("a key with %d contributions should equal NullKey", degenerate.Count())
		}
	}
	if NullKey.Equal(NewKey("blog.blog", 1)) || NewKey("blog.blog", 1).Equal(NullKey) {
		t.Error("an identifying key should differ from NullKey")
	}
	if NewKey("a").Equal(NewKey("b")) {
		t.Error("degenerate keys still compare by their contributions")
	}
	if NullKey.Clone() != NullKey {
		t.Error("cloning NullKey should return NullKey")
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrNullKeyUpdate) {
			t.Errorf("expected ErrNullKeyUpdate panic, got %v", r)
		}
	}()
	NullKey.Update("x")
}

func TestKey_Clone(t *testing.T) {
	original := NewKey("row", 1)
	clone := original.Clone()
	if !clone.Equal(original) {
		t.Fatal("clone should equal the original")
	}

	clone.Update("extra")
	if clone.Equal(original) {
		t.Error("extending the clone should not affect equality with the original")
	}
	if original.Count() != 2 {
		t.Errorf("original was modified, count %d", original.Count())
	}
	if !original.Equal(NewKey("row", 1)) {
		t.Error("original no longer matches a fresh key")
	}
}

func TestCombine(t *testing.T) {
	parent := NewKey("blog.blog", "blog_id", 1)
	row := NewKey("blog.post", "post_id", 10)

	tests := []struct {
		name     string
		row      *Key
		parent   *Key
		wantNull bool
	}{
		{name: "both identify rows", row: row, parent: parent},
		{name: "degenerate row", row: NewKey("blog.post"), parent: parent, wantNull: true},
		{name: "degenerate parent", row: row, parent: NewKey("blog.blog"), wantNull: true},
		{name: "null row", row: NullKey, parent: parent, wantNull: true},
		{name: "null parent", row: row, parent: NullKey, wantNull: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(tt.row, tt.parent)
			if got.IsNull() != tt.wantNull {
				t.Fatalf("Combine().IsNull() = %v, want %v", got.IsNull(), tt.wantNull)
			}
			if tt.wantNull {
				return
			}
			if got.Count() != tt.row.Count()+1 {
				t.Errorf("expected %d contributions, got %d", tt.row.Count()+1, got.Count())
			}
			if !got.Equal(Combine(NewKey("blog.post", "post_id", 10), NewKey("blog.blog", "blog_id", 1))) {
				t.Error("Combine should be deterministic")
			}
			if got.Equal(Combine(row, NewKey("blog.blog", "blog_id", 2))) {
				t.Error("different parents should produce different keys")
			}
			if row.Count() != 3 {
				t.Error("Combine should not modify the row key")
			}
		})
	}
}

func TestNullIfDegenerate(t *testing.T) {
	tests := []struct {
		name     string
		key      *Key
		wantNull bool
	}{
		{name: "empty", key: NewKey(), wantNull: true},
		{name: "result map only", key: NewKey("blog.blog"), wantNull: true},
		{name: "identifying", key: NewKey("blog.blog", 1)},
		{name: "null", key: NullKey, wantNull: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NullIfDegenerate(tt.key)
			if got.IsNull() != tt.wantNull {
				t.Errorf("IsNull() = %v, want %v", got.IsNull(), tt.wantNull)
			}
			if !tt.wantNull && got != tt.key {
				t.Error("identifying keys should be returned unchanged")
			}
		})
	}
}

func TestKey_Describe(t *testing.T) {
	k := NewKey("GetByID", 42, nil, []int{1, 2}, map[string]int{"b": 2, "a": 1})
	got := k.Describe()

	want := "GetByID::42::nil::slice[2]:{1,2}::map[2]:{a=1,b=2}"
	if !strings.HasSuffix(got, want) {
		t.Errorf("Describe() = %q, want suffix %q", got, want)
	}
	if head := strings.Split(got, KeySeparator)[0]; head != strconv.FormatUint(k.Hash(), 10) {
		t.Errorf("Describe() should start with the hash code, got %q", head)
	}
}
