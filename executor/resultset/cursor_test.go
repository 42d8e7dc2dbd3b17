package resultset

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/pkg/testsupport"
)

func TestCursor(t *testing.T) {
	rm := mapping.NewResultMap("blog.row", reflect.TypeOf(testBlog{}), nil)
	cfg := newConfig(t, rm)
	ms := selectStatement(rm)
	ctx := context.Background()

	newRows := func() *driver.MemoryRows {
		return driver.NewMemoryRows(testsupport.Table([]string{"id"},
			[]any{int64(1)}, []any{int64(2)}, []any{int64(3)}, []any{int64(4)}))
	}

	tests := []struct {
		name     string
		bounds   mapping.RowBounds
		want     []int64
		consumed bool
	}{
		{name: "all rows", bounds: mapping.DefaultRowBounds, want: []int64{1, 2, 3, 4}, consumed: true},
		{name: "offset and limit", bounds: mapping.RowBounds{Offset: 1, Limit: 2}, want: []int64{2, 3}, consumed: true},
		{name: "offset past the end", bounds: mapping.RowBounds{Offset: 10, Limit: 2}, consumed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := newRows()
			h := NewHandler(newStubExecutor(), cfg, ms, nil, tt.bounds, nil, ms.BoundSQL(nil))
			cur, err := h.HandleCursorResultSets(ctx, rows)
			if err != nil {
				t.Fatalf("HandleCursorResultSets failed: %v", err)
			}
			if cur.IsOpen() || cur.CurrentIndex() != -1 {
				t.Error("a new cursor should not be open")
			}

			var got []int64
			for {
				obj, ok, err := cur.Next(ctx)
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if !ok {
					break
				}
				got = append(got, obj.(*testBlog).ID)
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if cur.IsConsumed() != tt.consumed || cur.IsOpen() {
				t.Errorf("unexpected status: consumed=%v open=%v", cur.IsConsumed(), cur.IsOpen())
			}
			if !rows.Closed() {
				t.Error("rows should be closed once the cursor is done")
			}
			if _, ok, _ := cur.Next(ctx); ok {
				t.Error("a finished cursor should not return more objects")
			}
		})
	}
}

func TestCursor_Close(t *testing.T) {
	rm := mapping.NewResultMap("blog.row", reflect.TypeOf(testBlog{}), nil)
	cfg := newConfig(t, rm)
	ms := selectStatement(rm)
	ctx := context.Background()

	rows := driver.NewMemoryRows(testsupport.Table([]string{"id"}, []any{int64(1)}, []any{int64(2)}))
	h := NewHandler(newStubExecutor(), cfg, ms, nil, mapping.DefaultRowBounds, nil, ms.BoundSQL(nil))
	cur, err := h.HandleCursorResultSets(ctx, rows)
	if err != nil {
		t.Fatalf("HandleCursorResultSets failed: %v", err)
	}

	if _, ok, err := cur.Next(ctx); !ok || err != nil {
		t.Fatalf("Next() = %v, %v", ok, err)
	}
	if !cur.IsOpen() || cur.CurrentIndex() != 0 {
		t.Errorf("expected an open cursor at index 0, got open=%v index=%d", cur.IsOpen(), cur.CurrentIndex())
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if cur.IsOpen() || cur.IsConsumed() || !rows.Closed() {
		t.Error("a closed cursor is neither open nor consumed")
	}
	if _, ok, _ := cur.Next(ctx); ok {
		t.Error("a closed cursor should not return more objects")
	}
}

func TestCursor_Errors(t *testing.T) {
	a := mapping.NewResultMap("a", reflect.TypeOf(testBlog{}), nil)
	b := mapping.NewResultMap("b", reflect.TypeOf(testBlog{}), nil)
	cfg := newConfig(t, a, b)
	ctx := context.Background()

	t.Run("several result maps", func(t *testing.T) {
		ms := selectStatement(a, b)
		rows := driver.NewMemoryRows(testsupport.Table([]string{"id"}))
		h := NewHandler(newStubExecutor(), cfg, ms, nil, mapping.DefaultRowBounds, nil, ms.BoundSQL(nil))
		if _, err := h.HandleCursorResultSets(ctx, rows); !errors.Is(err, ErrCursorResultMaps) {
			t.Errorf("expected ErrCursorResultMaps, got %v", err)
		}
		if !rows.Closed() {
			t.Error("rows should be closed on error")
		}
	})

	t.Run("row error", func(t *testing.T) {
		ms := selectStatement(a)
		boom := errors.New("connection reset")
		rows := driver.NewMemoryRows(testsupport.Table([]string{"id"}, []any{int64(1)})).FailWith(boom)
		h := NewHandler(newStubExecutor(), cfg, ms, nil, mapping.DefaultRowBounds, nil, ms.BoundSQL(nil))
		cur, err := h.HandleCursorResultSets(ctx, rows)
		if err != nil {
			t.Fatalf("HandleCursorResultSets failed: %v", err)
		}
		if _, ok, err := cur.Next(ctx); !ok || err != nil {
			t.Fatalf("the first row should be served, got %v %v", ok, err)
		}
		if _, _, err := cur.Next(ctx); !errors.Is(err, boom) {
			t.Errorf("expected the row error, got %v", err)
		}
		if !rows.Closed() {
			t.Error("rows should be closed after an error")
		}
	})
}
