// Package driver describes the physical layer the executor talks to:
// transactions that hand out connections, prepared statements with batch and
// generated key support, and forward or random access row cursors.
//
// driver/bundriver implements it on top of uptrace/bun; pkg/testsupport has a
// scripted in-memory implementation for tests.
package driver

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Transaction owns one physical connection for a unit of work.
type Transaction interface {
	Conn(ctx context.Context) (Conn, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
	// Timeout is the remaining transaction timeout, zero when unbounded.
	Timeout() time.Duration
}

// Conn prepares statements.
type Conn interface {
	Prepare(ctx context.Context, sql string) (Stmt, error)
}

// Stmt is a prepared statement.
type Stmt interface {
	Exec(ctx context.Context, args []Arg) (int64, error)
	Query(ctx context.Context, args []Arg) (Rows, error)
	AddBatch(args []Arg)
	// ExecBatch runs every buffered argument set and returns one update
	// count per set. A partial failure is reported as *BatchUpdateError.
	ExecBatch(ctx context.Context) ([]int64, error)
	// GeneratedKeys returns the keys produced by the last Exec or ExecBatch.
	GeneratedKeys() (Rows, error)
	// OutValue returns the value of the i-th argument after a call when that
	// argument was registered as an output parameter.
	OutValue(i int) any
	SetTimeout(d time.Duration)
	Close() error
}

// Column describes one result column. GoType is the type the driver scans
// into, nil when unknown.
type Column struct {
	Name   string
	DBType string
	GoType reflect.Type
}

// Rows is a cursor over one or more result sets.
type Rows interface {
	Columns() []Column
	Next() bool
	// Value returns column i of the current row.
	Value(i int) any
	Err() error
	Close() error
	// Seek positions the cursor so that the next call to Next returns the
	// row at offset. It returns false when the cursor is forward only.
	Seek(offset int) (bool, error)
	NextResultSet() bool
}

// Arg is one positional statement argument.
type Arg struct {
	Name  string
	Value any
	Out   bool
}

// Values extracts the argument values in order.
func Values(args []Arg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// BatchUpdateError reports a batch that failed part way. Counts holds the
// update counts of the argument sets that ran before the failure.
type BatchUpdateError struct {
	Counts []int64
	Err    error
}

func (e *BatchUpdateError) Error() string {
	return fmt.Sprintf("batch update failed after %d statement(s): %v", len(e.Counts), e.Err)
}

func (e *BatchUpdateError) Unwrap() error {
	return e.Err
}

// Cause lets github.com/pkg/errors unwrap the driver error.
func (e *BatchUpdateError) Cause() error {
	return e.Err
}

// ApplyTimeout sets the statement timeout to the smaller positive value of
// the statement timeout and the transaction timeout.
func ApplyTimeout(stmt Stmt, statementTimeout, txTimeout time.Duration) {
	timeout := statementTimeout
	if txTimeout > 0 && (timeout <= 0 || txTimeout < timeout) {
		timeout = txTimeout
	}
	if timeout > 0 {
		stmt.SetTimeout(timeout)
	}
}

// WithTimeout derives a context bounded by d when d is positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
