package reflection

import (
	"errors"
	"reflect"
	"testing"
)

func TestToSnake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ID", "id"},
		{"AuthorID", "author_id"},
		{"HTTPServer", "http_server"},
		{"Post2Tag", "post_2_tag"},
		{"already_snake", "already_snake"},
		{"with-dash", "with_dash"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := toSnake(tt.in); got != tt.want {
				t.Errorf("toSnake(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestObjectFactory_Create(t *testing.T) {
	f := NewObjectFactory()

	tests := []struct {
		name string
		t    reflect.Type
		want reflect.Type
	}{
		{name: "struct yields pointer", t: reflect.TypeOf(author{}), want: reflect.TypeOf(&author{})},
		{name: "pointer yields pointer", t: reflect.TypeOf(&author{}), want: reflect.TypeOf(&author{})},
		{name: "interface yields row", t: anyType, want: reflect.TypeOf(&OrderedRow{})},
		{name: "map", t: reflect.TypeOf(map[string]any{}), want: reflect.TypeOf(map[string]any{})},
		{name: "slice", t: reflect.TypeOf([]int{}), want: reflect.TypeOf([]int{})},
		{name: "scalar", t: reflect.TypeOf(0), want: reflect.TypeOf(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Create(tt.t)
			if reflect.TypeOf(got) != tt.want {
				t.Errorf("Create(%v) returned %T, want %v", tt.t, got, tt.want)
			}
		})
	}

	if !f.HasDefaultConstructor(reflect.TypeOf(author{})) {
		t.Error("structs should have a default constructor")
	}
	if f.HasDefaultConstructor(reflect.TypeOf(0)) {
		t.Error("scalars should not have a default constructor")
	}
	if !f.IsCollection(reflect.TypeOf([]string{})) || f.IsCollection(reflect.TypeOf([]byte{})) {
		t.Error("byte slices are values, other slices are collections")
	}
}

func TestObjectFactory_Constructors(t *testing.T) {
	f := NewObjectFactory()
	authorType := reflect.TypeOf(author{})
	params := []reflect.Type{reflect.TypeOf(int64(0)), reflect.TypeOf("")}

	f.RegisterConstructor(authorType, params, func(args []any) (any, error) {
		return &author{ID: args[0].(int64), Username: args[1].(string)}, nil
	})

	if f.HasDefaultConstructor(authorType) {
		t.Error("a type with only argument constructors has no default constructor")
	}
	if n := len(f.Constructors(reflect.PointerTo(authorType))); n != 1 {
		t.Errorf("expected constructors to be found through the pointer type, got %d", n)
	}

	v, err := f.CreateWith(authorType, params, []any{int64(9), "ada"})
	if err != nil {
		t.Fatalf("CreateWith failed: %v", err)
	}
	if a := v.(*author); a.ID != 9 || a.Username != "ada" {
		t.Errorf("unexpected author %+v", a)
	}

	_, err = f.CreateWith(authorType, params[:1], []any{int64(9)})
	if !errors.Is(err, ErrNoConstructor) {
		t.Errorf("expected ErrNoConstructor, got %v", err)
	}

	f.RegisterConstructor(authorType, nil, func([]any) (any, error) {
		return &author{Username: "anonymous"}, nil
	})
	if a := f.Create(authorType).(*author); a.Username != "anonymous" {
		t.Errorf("expected the registered default constructor to run, got %+v", a)
	}
}
