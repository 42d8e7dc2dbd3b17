package driver

import "github.com/pkg/errors"

// ResultSet is one in-memory result set.
type ResultSet struct {
	Columns []Column
	Rows    [][]any
}

// MemoryRows serves rows held in memory. It supports Seek.
type MemoryRows struct {
	sets   []ResultSet
	set    int
	cursor int
	closed bool
	err    error

	// ForwardOnly disables Seek.
	ForwardOnly bool
	OnClose     func()
}

// NewMemoryRows returns a cursor over sets, positioned before the first row
// of the first set.
func NewMemoryRows(sets ...ResultSet) *MemoryRows {
	if len(sets) == 0 {
		sets = []ResultSet{{}}
	}
	return &MemoryRows{sets: sets, cursor: -1}
}

// FailWith makes Err report err once the rows are exhausted.
func (r *MemoryRows) FailWith(err error) *MemoryRows {
	r.err = err
	return r
}

func (r *MemoryRows) Columns() []Column {
	return r.sets[r.set].Columns
}

func (r *MemoryRows) Next() bool {
	if r.closed {
		return false
	}
	if r.cursor+1 >= len(r.sets[r.set].Rows) {
		r.cursor = len(r.sets[r.set].Rows)
		return false
	}
	r.cursor++
	return true
}

func (r *MemoryRows) Value(i int) any {
	rows := r.sets[r.set].Rows
	if r.cursor < 0 || r.cursor >= len(rows) || i >= len(rows[r.cursor]) {
		return nil
	}
	return rows[r.cursor][i]
}

func (r *MemoryRows) Err() error {
	if r.cursor >= len(r.sets[r.set].Rows) {
		return r.err
	}
	return nil
}

func (r *MemoryRows) Close() error {
	if !r.closed {
		r.closed = true
		if r.OnClose != nil {
			r.OnClose()
		}
	}
	return nil
}

func (r *MemoryRows) Seek(offset int) (bool, error) {
	if r.closed {
		return false, errors.New("rows are closed")
	}
	if r.ForwardOnly {
		return false, nil
	}
	r.cursor = offset - 1
	return true, nil
}

func (r *MemoryRows) NextResultSet() bool {
	if r.closed || r.set+1 >= len(r.sets) {
		return false
	}
	r.set++
	r.cursor = -1
	return true
}

// Closed reports whether Close was called.
func (r *MemoryRows) Closed() bool {
	return r.closed
}
