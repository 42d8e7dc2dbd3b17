package resultset

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/pkg/testsupport"
	"github.com/goliatone/go-sqlexec/reflection"
)

type lazyBlog struct {
	ID      int64
	Author  *testAuthor
	loaders *LoaderMap
}

func (b *lazyBlog) AttachLoaders(l *LoaderMap) {
	b.loaders = l
}

const authorByID = "author.byID"

// nestedQuerySetup registers a statement loading one author per blog row
// and returns the configuration with the outer select.
func nestedQuerySetup(t *testing.T, resultType reflect.Type, fetch mapping.FetchType) (*mapping.Configuration, *mapping.MappedStatement) {
	t.Helper()
	author := mapping.NewResultMap("author", reflect.TypeOf(testAuthor{}), nil)
	blog := mapping.NewResultMap("blog.withAuthor", resultType, []mapping.ResultMapping{
		{Property: "ID", Column: "id"},
		{Property: "Author", Column: "author_id", NestedQueryID: authorByID, Fetch: fetch},
	})
	cfg := newConfig(t, author, blog)
	nested := mapping.NewStatement(authorByID, mapping.Select,
		mapping.StaticSQL{Text: "SELECT * FROM author WHERE id = ?", Params: mapping.Params("id")}, author)
	if err := cfg.AddMappedStatement(nested); err != nil {
		t.Fatalf("AddMappedStatement failed: %v", err)
	}
	return cfg, selectStatement(blog)
}

func authorRows() driver.ResultSet {
	return testsupport.Table([]string{"id", "author_id"},
		[]any{int64(1), int64(7)},
		[]any{int64(2), nil},
	)
}

func runNested(t *testing.T, exec *stubExecutor, cfg *mapping.Configuration, ms *mapping.MappedStatement) []any {
	t.Helper()
	h := NewHandler(exec, cfg, ms, nil, mapping.DefaultRowBounds, nil, ms.BoundSQL(nil))
	list, err := h.HandleResultSets(context.Background(), driver.NewMemoryRows(authorRows()))
	if err != nil {
		t.Fatalf("HandleResultSets failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(list))
	}
	return list
}

func TestHandler_NestedQueryEager(t *testing.T) {
	cfg, ms := nestedQuerySetup(t, reflect.TypeOf(testBlog{}), mapping.FetchDefault)
	exec := newStubExecutor()
	exec.results[authorByID] = []any{&testAuthor{ID: 7, Name: "ada"}}

	list := runNested(t, exec, cfg, ms)

	if a := list[0].(*testBlog).Author; a == nil || a.Name != "ada" {
		t.Errorf("expected the author to be loaded, got %+v", a)
	}
	if a := list[1].(*testBlog).Author; a != nil {
		t.Errorf("a null join column should not run the query, got %+v", a)
	}
	if exec.queryCount() != 1 || exec.params[0] != int64(7) {
		t.Errorf("expected one query with param 7, got %v", exec.params)
	}
}

func TestHandler_NestedQueryDeferred(t *testing.T) {
	cfg, ms := nestedQuerySetup(t, reflect.TypeOf(testBlog{}), mapping.FetchDefault)
	exec := newStubExecutor()
	exec.cached[authorByID] = true

	list := runNested(t, exec, cfg, ms)

	if exec.queryCount() != 0 {
		t.Errorf("cached keys should not be queried, got %v", exec.queries)
	}
	if len(exec.deferred) != 1 || exec.deferred[0] != "Author" {
		t.Errorf("expected one deferred load of Author, got %v", exec.deferred)
	}
	if list[0].(*testBlog).Author != nil {
		t.Error("deferred properties are filled later by the executor")
	}
}

func TestHandler_NestedQueryLazy(t *testing.T) {
	t.Run("loaded before return", func(t *testing.T) {
		cfg, ms := nestedQuerySetup(t, reflect.TypeOf(testBlog{}), mapping.FetchDefault)
		cfg.LazyLoadingEnabled = true
		exec := newStubExecutor()
		exec.results[authorByID] = []any{&testAuthor{ID: 7}}

		list := runNested(t, exec, cfg, ms)
		if list[0].(*testBlog).Author == nil {
			t.Error("types without LazyLoadable get their lazy properties loaded eagerly")
		}
	})

	t.Run("loaded on demand", func(t *testing.T) {
		cfg, ms := nestedQuerySetup(t, reflect.TypeOf(lazyBlog{}), mapping.FetchDefault)
		cfg.LazyLoadingEnabled = true
		exec := newStubExecutor()
		exec.results[authorByID] = []any{&testAuthor{ID: 7}}

		list := runNested(t, exec, cfg, ms)
		b := list[0].(*lazyBlog)
		if b.Author != nil || exec.queryCount() != 0 {
			t.Fatal("the author should not be loaded yet")
		}
		if b.loaders == nil || !b.loaders.Has("Author") || b.loaders.Size() != 1 {
			t.Fatalf("expected a pending Author loader, got %v", b.loaders)
		}

		ok, err := b.loaders.Load(context.Background(), "author")
		if err != nil || !ok {
			t.Fatalf("Load() = %v, %v", ok, err)
		}
		if b.Author == nil || b.Author.ID != 7 || b.loaders.Size() != 0 {
			t.Errorf("expected the author to be loaded, got %+v", b.Author)
		}
		if ok, _ := b.loaders.Load(context.Background(), "Author"); ok {
			t.Error("a property loads only once")
		}
		if list[1].(*lazyBlog).loaders != nil {
			t.Error("rows without a join value get no loaders")
		}
	})

	t.Run("eager fetch wins", func(t *testing.T) {
		cfg, ms := nestedQuerySetup(t, reflect.TypeOf(lazyBlog{}), mapping.FetchEager)
		cfg.LazyLoadingEnabled = true
		exec := newStubExecutor()
		exec.results[authorByID] = []any{&testAuthor{ID: 7}}

		list := runNested(t, exec, cfg, ms)
		if b := list[0].(*lazyBlog); b.Author == nil || b.loaders != nil {
			t.Errorf("expected an eager load, got %+v", b)
		}
	})
}

func TestHandler_NestedQueryCollection(t *testing.T) {
	post := mapping.NewResultMap("post", reflect.TypeOf(testPost{}), nil)
	blog := mapping.NewResultMap("blog.withPosts", reflect.TypeOf(testBlog{}), []mapping.ResultMapping{
		{Property: "ID", Column: "id"},
		{Property: "Posts", Column: "id", NestedQueryID: "post.byBlog"},
	})
	cfg := newConfig(t, post, blog)
	_ = cfg.AddMappedStatement(mapping.NewStatement("post.byBlog", mapping.Select,
		mapping.StaticSQL{Text: "SELECT * FROM post WHERE blog_id = ?"}, post))

	exec := newStubExecutor()
	exec.results["post.byBlog"] = []any{&testPost{ID: 10}, &testPost{ID: 11}}

	ms := selectStatement(blog)
	h := NewHandler(exec, cfg, ms, nil, mapping.DefaultRowBounds, nil, ms.BoundSQL(nil))
	list, err := h.HandleResultSets(context.Background(),
		driver.NewMemoryRows(testsupport.Table([]string{"id"}, []any{int64(1)})))
	if err != nil {
		t.Fatalf("HandleResultSets failed: %v", err)
	}
	if posts := list[0].(*testBlog).Posts; len(posts) != 2 || posts[1].ID != 11 {
		t.Errorf("expected two posts, got %+v", posts)
	}
}

func TestHandler_NestedQueryComposite(t *testing.T) {
	author := mapping.NewResultMap("author", reflect.TypeOf(testAuthor{}), nil)
	blog := mapping.NewResultMap("blog.composite", reflect.TypeOf(testBlog{}), []mapping.ResultMapping{
		{Property: "ID", Column: "id"},
		{Property: "Author", NestedQueryID: "author.byKey", Composites: []mapping.ResultMapping{
			{Property: "id", Column: "author_id"},
			{Property: "name", Column: "author_name"},
		}},
	})
	cfg := newConfig(t, author, blog)
	_ = cfg.AddMappedStatement(mapping.NewStatement("author.byKey", mapping.Select,
		mapping.StaticSQL{Text: "SELECT * FROM author WHERE id = ? AND name = ?"}, author))

	exec := newStubExecutor()
	exec.results["author.byKey"] = []any{&testAuthor{ID: 7, Name: "ada"}}

	ms := selectStatement(blog)
	h := NewHandler(exec, cfg, ms, nil, mapping.DefaultRowBounds, nil, ms.BoundSQL(nil))
	_, err := h.HandleResultSets(context.Background(), driver.NewMemoryRows(
		testsupport.Table([]string{"id", "author_id", "author_name"}, []any{int64(1), int64(7), "ada"})))
	if err != nil {
		t.Fatalf("HandleResultSets failed: %v", err)
	}

	param, ok := exec.params[0].(map[string]any)
	if !ok || param["id"] != int64(7) || param["name"] != "ada" {
		t.Errorf("expected a composite map parameter, got %#v", exec.params[0])
	}
}

func TestExtract(t *testing.T) {
	ada, bob := &testAuthor{ID: 1, Name: "ada"}, &testAuthor{ID: 2, Name: "bob"}

	tests := []struct {
		name    string
		list    []any
		target  reflect.Type
		check   func(t *testing.T, got any)
		wantErr error
	}{
		{
			name:   "nil target keeps the list",
			list:   []any{ada},
			target: nil,
			check: func(t *testing.T, got any) {
				if l, ok := got.([]any); !ok || len(l) != 1 {
					t.Errorf("expected the list, got %v", got)
				}
			},
		},
		{
			name:   "typed slice",
			list:   []any{ada, bob},
			target: reflect.TypeOf([]*testAuthor{}),
			check: func(t *testing.T, got any) {
				if l := got.([]*testAuthor); len(l) != 2 || l[1] != bob {
					t.Errorf("unexpected slice %v", l)
				}
			},
		},
		{
			name:   "value slice from pointers",
			list:   []any{ada},
			target: reflect.TypeOf([]testAuthor{}),
			check: func(t *testing.T, got any) {
				if l := got.([]testAuthor); len(l) != 1 || l[0].Name != "ada" {
					t.Errorf("unexpected slice %v", l)
				}
			},
		},
		{
			name:   "single element",
			list:   []any{ada},
			target: reflect.TypeOf(ada),
			check: func(t *testing.T, got any) {
				if got != ada {
					t.Errorf("expected ada, got %v", got)
				}
			},
		},
		{
			name:   "empty list",
			list:   []any{},
			target: reflect.TypeOf(ada),
			check: func(t *testing.T, got any) {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
			},
		},
		{
			name:    "too many results",
			list:    []any{ada, bob},
			target:  reflect.TypeOf(ada),
			wantErr: ErrTooManyResults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.list, tt.target)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, got)
		})
	}

	if _, err := Extract([]any{"x"}, reflect.TypeOf([]int{})); err == nil {
		t.Error("expected an error for an element that does not fit")
	}
}

func TestLoaderMap_Add(t *testing.T) {
	exec := newStubExecutor()
	ms := mapping.NewStatement(authorByID, mapping.Select, mapping.StaticSQL{Text: "SELECT 1"})
	meta, err := reflection.NewMetaObject(&testBlog{}, reflection.NewObjectFactory())
	if err != nil {
		t.Fatalf("NewMetaObject failed: %v", err)
	}
	loader := NewResultLoader(exec, ms, nil, nil, nil, nil)

	m := newLoaderMap()
	if err := m.add("Author", meta, loader); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := m.add("Author", meta, loader); err != nil {
		t.Errorf("replacing a top level property should be allowed, got %v", err)
	}
	if err := m.add("Author.Name", meta, loader); err == nil {
		t.Error("expected an error for a second nested property with the same head")
	}
	if props := m.Properties(); len(props) != 1 || props[0] != "Author" {
		t.Errorf("unexpected properties %v", props)
	}
	if loader.Statement() != ms {
		t.Error("Statement should return the nested statement")
	}
}
