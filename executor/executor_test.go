package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/pkg/testsupport"
)

const (
	selectBlogSQL = "SELECT id, title FROM blog WHERE id = ?"
	updateBlogSQL = "UPDATE blog SET title = ? WHERE id = ?"
	insertBlogSQL = "INSERT INTO blog (title) VALUES (?)"
)

type blog struct {
	ID    int64
	Title string
}

type fixture struct {
	cfg    *mapping.Configuration
	tx     *testsupport.FakeTransaction
	blogRM *mapping.ResultMap
	sel    *mapping.MappedStatement
	upd    *mapping.MappedStatement
	ins    *mapping.MappedStatement
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := mapping.NewConfiguration()
	blogRM := mapping.NewResultMap("blog", reflect.TypeOf(blog{}), nil)
	if err := cfg.AddResultMap(blogRM); err != nil {
		t.Fatalf("AddResultMap failed: %v", err)
	}

	f := &fixture{
		cfg:    cfg,
		blogRM: blogRM,
		sel:    mapping.NewStatement("blog.select", mapping.Select, mapping.StaticSQL{Text: selectBlogSQL, Params: mapping.Params("id")}, blogRM),
		upd:    mapping.NewStatement("blog.update", mapping.Update, mapping.StaticSQL{Text: updateBlogSQL, Params: mapping.Params("Title", "ID")}),
		ins:    mapping.NewStatement("blog.insert", mapping.Insert, mapping.StaticSQL{Text: insertBlogSQL, Params: mapping.Params("Title")}),
		tx: testsupport.NewFakeTransaction().
			OnQuery(selectBlogSQL, testsupport.Table([]string{"id", "title"}, []any{int64(1), "Go"})),
	}
	for _, ms := range []*mapping.MappedStatement{f.sel, f.upd, f.ins} {
		if err := cfg.AddMappedStatement(ms); err != nil {
			t.Fatalf("AddMappedStatement failed: %v", err)
		}
	}
	return f
}

func cacheKey(t *testing.T, e resultset.Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) *cache.Key {
	t.Helper()
	key, err := e.CreateCacheKey(ms, param, bounds, bound)
	if err != nil {
		t.Fatalf("CreateCacheKey failed: %v", err)
	}
	return key
}

func TestExecutor_SessionCache(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated query hits the driver once", func(t *testing.T) {
		f := newFixture(t)
		e := NewSimple(f.cfg, f.tx)

		first, err := e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		second, err := e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if n := f.tx.Count("query", selectBlogSQL); n != 1 {
			t.Errorf("expected 1 driver query, got %d", n)
		}
		if first[0] != second[0] {
			t.Error("expected the cached objects to be returned")
		}

		if _, err := e.Query(ctx, f.sel, int64(2), mapping.DefaultRowBounds, nil); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if n := f.tx.Count("query", selectBlogSQL); n != 2 {
			t.Errorf("a different parameter should query again, got %d queries", n)
		}
	})

	t.Run("update clears the cache", func(t *testing.T) {
		f := newFixture(t)
		e := NewSimple(f.cfg, f.tx)

		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		n, err := e.Update(ctx, f.upd, &blog{ID: 1, Title: "Go 2"})
		if err != nil || n != 1 {
			t.Fatalf("Update() = %d, %v", n, err)
		}
		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)

		if n := f.tx.Count("query", selectBlogSQL); n != 2 {
			t.Errorf("expected 2 driver queries, got %d", n)
		}
		calls := f.tx.Calls()
		for _, c := range calls {
			if c.Op == "exec" && !reflect.DeepEqual(c.Args, []any{"Go 2", int64(1)}) {
				t.Errorf("unexpected update arguments %v", c.Args)
			}
		}
	})

	t.Run("flush required", func(t *testing.T) {
		f := newFixture(t)
		f.sel.FlushCacheRequired = true
		e := NewSimple(f.cfg, f.tx)

		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		if n := f.tx.Count("query", selectBlogSQL); n != 2 {
			t.Errorf("expected 2 driver queries, got %d", n)
		}
	})

	t.Run("statement scope", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.LocalCacheScope = mapping.ScopeStatement
		e := NewSimple(f.cfg, f.tx)

		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		if n := f.tx.Count("query", selectBlogSQL); n != 2 {
			t.Errorf("expected 2 driver queries, got %d", n)
		}
	})

	t.Run("result handler bypasses the cache", func(t *testing.T) {
		f := newFixture(t)
		e := NewSimple(f.cfg, f.tx)

		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		var seen int
		_, err := e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, resultset.HandlerFunc(func(*resultset.ResultContext) { seen++ }))
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if seen != 1 || f.tx.Count("query", selectBlogSQL) != 2 {
			t.Errorf("expected the handler to see a fresh row, seen=%d", seen)
		}
	})

	t.Run("failed query leaves no entry", func(t *testing.T) {
		f := newFixture(t)
		boom := errors.New("syntax error")
		f.tx.FailOn(selectBlogSQL, boom)
		e := NewSimple(f.cfg, f.tx)

		_, err := e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		if !errors.Is(err, boom) {
			t.Fatalf("expected the driver error, got %v", err)
		}
		bound := f.sel.BoundSQL(int64(1))
		if e.IsCached(f.sel, cacheKey(t, e, f.sel, int64(1), mapping.DefaultRowBounds, bound)) {
			t.Error("the execution placeholder should be removed after a failure")
		}
	})
}

func TestExecutor_CreateCacheKey(t *testing.T) {
	f := newFixture(t)
	e := NewSimple(f.cfg, f.tx)
	bound := f.sel.BoundSQL(int64(1))

	a := cacheKey(t, e, f.sel, int64(1), mapping.DefaultRowBounds, bound)
	b := cacheKey(t, e, f.sel, int64(1), mapping.DefaultRowBounds, bound)
	if !a.Equal(b) {
		t.Error("equal inputs should produce equal keys")
	}

	other := cacheKey(t, e, f.sel, int64(1), mapping.RowBounds{Offset: 1, Limit: 5}, bound)
	if a.Equal(other) {
		t.Error("row bounds are part of the key")
	}

	f.cfg.EnvironmentID = "staging"
	staged := cacheKey(t, e, f.sel, int64(1), mapping.DefaultRowBounds, bound)
	if a.Equal(staged) {
		t.Error("the environment id is part of the key")
	}

	bound.SetAdditionalParameter("id", int64(9))
	if staged.Equal(cacheKey(t, e, f.sel, int64(1), mapping.DefaultRowBounds, bound)) {
		t.Error("additional parameters take precedence over the parameter object")
	}

	ms := mapping.NewStatement("blog.call", mapping.Select, mapping.StaticSQL{Text: "{call x(?, ?)}", Params: []mapping.ParameterMapping{
		{Property: "ID"},
		{Property: "Total", Mode: mapping.Out},
	}})
	k1 := cacheKey(t, e, ms, &totals{ID: 1, Total: 1}, mapping.DefaultRowBounds, ms.BoundSQL(nil))
	k2 := cacheKey(t, e, ms, &totals{ID: 1, Total: 2}, mapping.DefaultRowBounds, ms.BoundSQL(nil))
	if !k1.Equal(k2) {
		t.Error("OUT parameters are not part of the key")
	}
}

type totals struct {
	ID    int64
	Total int64
}

func TestExecutor_CachedOutputParameters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const callSQL = "{call blog_totals(?, ?)}"
	f.tx.OnQuery(callSQL, testsupport.Table([]string{"id", "title"}, []any{int64(1), "Go"})).
		OnOut(callSQL, nil, int64(5))

	ms := mapping.NewStatement("blog.totals", mapping.Select, mapping.StaticSQL{Text: callSQL, Params: []mapping.ParameterMapping{
		{Property: "ID"},
		{Property: "Total", Mode: mapping.Out},
	}}, f.blogRM)
	ms.Kind = mapping.Callable
	e := NewSimple(f.cfg, f.tx)

	first := &totals{ID: 1}
	if _, err := e.Query(ctx, ms, first, mapping.DefaultRowBounds, nil); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	second := &totals{ID: 1}
	if _, err := e.Query(ctx, ms, second, mapping.DefaultRowBounds, nil); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if f.tx.Count("query", callSQL) != 1 {
		t.Errorf("expected the second call to be served from the session cache")
	}
	if first.Total != 5 || second.Total != 5 {
		t.Errorf("expected OUT values on both parameters, got %d and %d", first.Total, second.Total)
	}
}

type cycBlog struct {
	ID    int64
	Title string
	Posts []*cycPost
}

type cycPost struct {
	ID   int64
	Blog *cycBlog
}

func TestExecutor_DeferredLoads(t *testing.T) {
	const postSQL = "SELECT id, blog_id FROM post WHERE blog_id = ?"

	scopes := []struct {
		name  string
		scope mapping.LocalCacheScope
	}{
		{name: "session", scope: mapping.ScopeSession},
		{name: "statement", scope: mapping.ScopeStatement},
	}

	for _, tt := range scopes {
		scope := tt.scope
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := mapping.NewConfiguration()
			cfg.LocalCacheScope = scope

			blogRM := mapping.NewResultMap("cyc.blog", reflect.TypeOf(cycBlog{}), []mapping.ResultMapping{
				{Property: "ID", Column: "id"},
				{Property: "Title", Column: "title"},
				{Property: "Posts", Column: "id", NestedQueryID: "cyc.postsByBlog"},
			})
			postRM := mapping.NewResultMap("cyc.post", reflect.TypeOf(cycPost{}), []mapping.ResultMapping{
				{Property: "ID", Column: "id"},
				{Property: "Blog", Column: "blog_id", NestedQueryID: "cyc.blog"},
			})
			_ = cfg.AddResultMap(blogRM)
			_ = cfg.AddResultMap(postRM)
			selBlog := mapping.NewStatement("cyc.blog", mapping.Select, mapping.StaticSQL{Text: selectBlogSQL, Params: mapping.Params("id")}, blogRM)
			selPosts := mapping.NewStatement("cyc.postsByBlog", mapping.Select, mapping.StaticSQL{Text: postSQL, Params: mapping.Params("blog_id")}, postRM)
			_ = cfg.AddMappedStatement(selBlog)
			_ = cfg.AddMappedStatement(selPosts)

			tx := testsupport.NewFakeTransaction().
				OnQuery(selectBlogSQL, testsupport.Table([]string{"id", "title"}, []any{int64(1), "Go"})).
				OnQuery(postSQL, testsupport.Table([]string{"id", "blog_id"}, []any{int64(10), int64(1)}, []any{int64(11), int64(1)}))
			e := NewSimple(cfg, tx)

			list, err := e.Query(ctx, selBlog, int64(1), mapping.DefaultRowBounds, nil)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			b := list[0].(*cycBlog)
			if len(b.Posts) != 2 {
				t.Fatalf("expected 2 posts, got %d", len(b.Posts))
			}
			for _, p := range b.Posts {
				if p.Blog != b {
					t.Errorf("post %d should point back to the blog being built", p.ID)
				}
			}
			if n := tx.Count("query", selectBlogSQL); n != 1 {
				t.Errorf("the cyclic reference should not query the blog again, got %d", n)
			}

			bound := selBlog.BoundSQL(int64(1))
			cached := e.IsCached(selBlog, cacheKey(t, e, selBlog, int64(1), mapping.DefaultRowBounds, bound))
			if cached != (scope == mapping.ScopeSession) {
				t.Errorf("unexpected session cache state after the query: %v", cached)
			}
		})
	}
}

func TestExecutor_NestedQueryError(t *testing.T) {
	const postSQL = "SELECT id, blog_id FROM post WHERE blog_id = ?"
	cfg := mapping.NewConfiguration()
	blogRM := mapping.NewResultMap("cyc.blog", reflect.TypeOf(cycBlog{}), []mapping.ResultMapping{
		{Property: "ID", Column: "id"},
		{Property: "Posts", Column: "id", NestedQueryID: "cyc.postsByBlog"},
	})
	postRM := mapping.NewResultMap("cyc.post", reflect.TypeOf(cycPost{}), []mapping.ResultMapping{
		{Property: "ID", Column: "id"},
	})
	_ = cfg.AddResultMap(blogRM)
	_ = cfg.AddResultMap(postRM)
	selBlog := mapping.NewStatement("cyc.blog", mapping.Select, mapping.StaticSQL{Text: selectBlogSQL, Params: mapping.Params("id")}, blogRM)
	selPosts := mapping.NewStatement("cyc.postsByBlog", mapping.Select, mapping.StaticSQL{Text: postSQL, Params: mapping.Params("blog_id")}, postRM)
	_ = cfg.AddMappedStatement(selBlog)
	_ = cfg.AddMappedStatement(selPosts)

	boom := errors.New("disk I/O error")
	tx := testsupport.NewFakeTransaction().
		OnQuery(selectBlogSQL, testsupport.Table([]string{"id", "title"}, []any{int64(1), "Go"})).
		FailOn(postSQL, boom)
	e := NewSimple(cfg, tx)

	_, err := e.Query(context.Background(), selBlog, int64(1), mapping.DefaultRowBounds, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the driver error, got %v", err)
	}
	if got := err.Error(); got != "query cyc.blog: disk I/O error" {
		t.Errorf("nested failures should be wrapped once by the outermost query, got %q", got)
	}
}

func TestExecutor_DeferLoadFinishedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := NewSimple(f.cfg, f.tx)

	list, err := e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	holder := &struct{ Blog *blog }{}
	meta, _ := f.cfg.NewMetaObject(holder)
	key := cacheKey(t, e, f.sel, int64(1), mapping.DefaultRowBounds, f.sel.BoundSQL(int64(1)))

	if err := e.DeferLoad(f.sel, meta, "Blog", key, reflect.TypeOf(&blog{})); err != nil {
		t.Fatalf("DeferLoad failed: %v", err)
	}
	if holder.Blog != list[0] {
		t.Error("a finished result should be loaded immediately")
	}
}

func TestExecutor_Timeouts(t *testing.T) {
	tests := []struct {
		name      string
		statement time.Duration
		tx        time.Duration
		want      []time.Duration
	}{
		{name: "none"},
		{name: "statement", statement: 2 * time.Second, want: []time.Duration{2 * time.Second}},
		{name: "transaction is smaller", statement: 2 * time.Second, tx: time.Second, want: []time.Duration{time.Second}},
		{name: "transaction only", tx: 3 * time.Second, want: []time.Duration{3 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.DefaultStatementTimeout = tt.statement
			f.tx.TxTimeout = tt.tx
			e := NewSimple(f.cfg, f.tx)
			if _, err := e.Query(context.Background(), f.sel, int64(1), mapping.DefaultRowBounds, nil); err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if got := f.tx.Timeouts(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected timeouts %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExecutor_QueryCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := NewSimple(f.cfg, f.tx)

	cur, err := e.QueryCursor(ctx, f.sel, int64(1), mapping.DefaultRowBounds)
	if err != nil {
		t.Fatalf("QueryCursor failed: %v", err)
	}
	n := 0
	for {
		_, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 1 || f.tx.OpenRows() != 0 || f.tx.Count("close_stmt", selectBlogSQL) != 1 {
		t.Errorf("expected one row and released resources, got n=%d open=%d", n, f.tx.OpenRows())
	}

	_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
	if _, err := e.QueryCursor(ctx, f.sel, int64(1), mapping.DefaultRowBounds); err != nil {
		t.Fatalf("QueryCursor failed: %v", err)
	}
	if got := f.tx.Count("query", selectBlogSQL); got != 3 {
		t.Errorf("cursors bypass the session cache, got %d queries", got)
	}
}

func TestExecutor_CommitRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		f := newFixture(t)
		e := NewSimple(f.cfg, f.tx)
		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)

		if err := e.Commit(ctx, false); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if f.tx.Count("commit", "") != 0 {
			t.Error("commit should not reach the transaction unless required")
		}
		if err := e.Commit(ctx, true); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if f.tx.Count("commit", "") != 1 {
			t.Error("expected the transaction to be committed")
		}
		_, _ = e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil)
		if f.tx.Count("query", selectBlogSQL) != 2 {
			t.Error("commit should clear the session cache")
		}
	})

	t.Run("commit error", func(t *testing.T) {
		f := newFixture(t)
		f.tx.CommitErr = errors.New("serialization failure")
		e := NewSimple(f.cfg, f.tx)
		if err := e.Commit(ctx, true); !errors.Is(err, f.tx.CommitErr) {
			t.Errorf("expected the commit error, got %v", err)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		f := newFixture(t)
		e := NewSimple(f.cfg, f.tx)
		if err := e.Rollback(ctx, true); err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if f.tx.Count("rollback", "") != 1 {
			t.Error("expected the transaction to be rolled back")
		}
	})
}

func TestExecutor_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("operations fail once closed", func(t *testing.T) {
		f := newFixture(t)
		e := NewSimple(f.cfg, f.tx)
		e.Close(ctx, false)

		if !e.IsClosed() {
			t.Fatal("expected the executor to be closed")
		}
		if _, err := e.Query(ctx, f.sel, int64(1), mapping.DefaultRowBounds, nil); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("Query: expected ErrExecutorClosed, got %v", err)
		}
		if _, err := e.QueryCursor(ctx, f.sel, int64(1), mapping.DefaultRowBounds); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("QueryCursor: expected ErrExecutorClosed, got %v", err)
		}
		if _, err := e.Update(ctx, f.upd, &blog{}); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("Update: expected ErrExecutorClosed, got %v", err)
		}
		if _, err := e.FlushStatements(ctx); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("FlushStatements: expected ErrExecutorClosed, got %v", err)
		}
		if err := e.Commit(ctx, true); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("Commit: expected ErrExecutorClosed, got %v", err)
		}
		if err := e.Rollback(ctx, true); err != nil {
			t.Errorf("Rollback after close should be a no-op, got %v", err)
		}
		if _, err := e.Transaction(); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("Transaction: expected ErrExecutorClosed, got %v", err)
		}
		if err := e.DeferLoad(f.sel, nil, "Blog", cache.NewKey(1), nil); !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("DeferLoad: expected ErrExecutorClosed, got %v", err)
		}
		if key, err := e.CreateCacheKey(f.sel, int64(1), mapping.DefaultRowBounds, f.sel.BoundSQL(int64(1))); !errors.Is(err, ErrExecutorClosed) || key != nil {
			t.Errorf("CreateCacheKey: expected ErrExecutorClosed, got %v, %v", key, err)
		}

		e.Close(ctx, true)
		if f.tx.Count("close", "") != 1 || f.tx.Count("rollback", "") != 0 {
			t.Error("closing twice should not touch the transaction again")
		}
	})

	t.Run("forced rollback failure is logged", func(t *testing.T) {
		var buf bytes.Buffer
		f := newFixture(t)
		f.cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))
		f.tx.RollbackErr = errors.New("connection lost")
		f.tx.CloseErr = errors.New("already closed")
		e := NewSimple(f.cfg, f.tx, WithID("session-1"))

		e.Close(ctx, true)

		if !e.IsClosed() || f.tx.Count("close", "") != 1 {
			t.Error("the executor should close even when the rollback fails")
		}
		out := buf.String()
		if strings.Count(out, "unexpected error on closing transaction") != 2 {
			t.Errorf("expected two warnings, got %q", out)
		}
		if !strings.Contains(out, "executor=session-1") {
			t.Errorf("expected the session id in the log, got %q", out)
		}
	})
}
