package resultset

import (
	"context"

	"github.com/goliatone/go-sqlexec/mapping"
)

type cursorStatus int

const (
	cursorCreated cursorStatus = iota
	cursorOpen
	cursorClosed
	cursorConsumed
)

// Cursor fetches assembled objects one at a time. It is not safe for
// concurrent use.
type Cursor struct {
	handler *Handler
	rows    *RowSet
	rm      *mapping.ResultMap
	bounds  mapping.RowBounds
	single  *singleHandler
	status  cursorStatus
	index   int
}

func newCursor(h *Handler, rs *RowSet, rm *mapping.ResultMap, bounds mapping.RowBounds) *Cursor {
	return &Cursor{
		handler: h,
		rows:    rs,
		rm:      rm,
		bounds:  bounds,
		single:  &singleHandler{},
		index:   -1,
	}
}

// Next returns the next object. ok is false once the rows or the row bounds
// are exhausted, after which the cursor is closed.
func (c *Cursor) Next(ctx context.Context) (any, bool, error) {
	for {
		obj, ok, err := c.fetch(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if c.index >= c.bounds.Offset {
			return obj, true, nil
		}
	}
}

func (c *Cursor) fetch(ctx context.Context) (any, bool, error) {
	if c.status == cursorClosed || c.status == cursorConsumed {
		return nil, false, nil
	}
	c.status = cursorOpen
	c.single.fetched = false
	c.single.result = nil

	if err := c.handler.handleRowValues(ctx, c.rows, c.rm, c.single, mapping.DefaultRowBounds, nil); err != nil {
		c.Close()
		return nil, false, err
	}

	if c.single.fetched {
		c.index++
	}
	if !c.single.fetched || c.readCount() == c.bounds.Offset+c.bounds.Limit {
		c.Close()
		c.status = cursorConsumed
	}
	if !c.single.fetched {
		return nil, false, nil
	}
	return c.single.result, true, nil
}

func (c *Cursor) readCount() int {
	return c.index + 1
}

// Close releases the underlying rows.
func (c *Cursor) Close() error {
	if c.status == cursorClosed || c.status == cursorConsumed {
		return nil
	}
	c.status = cursorClosed
	return c.rows.rows.Close()
}

// IsOpen reports whether at least one fetch happened and the cursor is not
// closed yet.
func (c *Cursor) IsOpen() bool {
	return c.status == cursorOpen
}

// IsConsumed reports whether every row was read.
func (c *Cursor) IsConsumed() bool {
	return c.status == cursorConsumed
}

// CurrentIndex returns the zero based index of the last returned object
// within the statement's rows, or -1 before the first.
func (c *Cursor) CurrentIndex() int {
	return c.index
}
