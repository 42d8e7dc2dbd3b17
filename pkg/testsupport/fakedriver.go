package testsupport

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/driver"
)

// Call is one recorded driver interaction.
type Call struct {
	Op   string
	SQL  string
	Args []any
}

// Interface assertion to ensure FakeTransaction can back an executor
var _ driver.Transaction = (*FakeTransaction)(nil)

// FakeTransaction is a scripted in-memory driver.Transaction. Queries
// answer with the result sets registered for their SQL text; every
// interaction is recorded.
type FakeTransaction struct {
	mu sync.Mutex

	results     map[string][]driver.ResultSet
	updates     map[string]int64
	failures    map[string]error
	batchFail   map[string]batchFailure
	outValues   map[string][]any
	calls       []Call
	timeouts    []time.Duration
	openRows    []*driver.MemoryRows
	nextKey     int64
	generateKey bool
	forwardOnly bool

	TxTimeout   time.Duration
	CommitErr   error
	RollbackErr error
	CloseErr    error
	ConnErr     error
}

type batchFailure struct {
	index int
	err   error
}

// NewFakeTransaction returns an empty script.
func NewFakeTransaction() *FakeTransaction {
	return &FakeTransaction{
		results:   make(map[string][]driver.ResultSet),
		updates:   make(map[string]int64),
		failures:  make(map[string]error),
		batchFail: make(map[string]batchFailure),
		outValues: make(map[string][]any),
		nextKey:   1,
	}
}

// OnQuery registers the result sets returned for sql.
func (f *FakeTransaction) OnQuery(sql string, sets ...driver.ResultSet) *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[sql] = sets
	return f
}

// OnUpdate sets the update count reported for sql. The default is 1.
func (f *FakeTransaction) OnUpdate(sql string, count int64) *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[sql] = count
	return f
}

// FailOn makes every execution of sql fail with err.
func (f *FakeTransaction) FailOn(sql string, err error) *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[sql] = err
	return f
}

// FailBatchAt makes the batch for sql fail at the argument set index.
func (f *FakeTransaction) FailBatchAt(sql string, index int, err error) *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchFail[sql] = batchFailure{index: index, err: err}
	return f
}

// OnOut sets the output parameter values reported after executing sql.
func (f *FakeTransaction) OnOut(sql string, values ...any) *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outValues[sql] = values
	return f
}

// GenerateKeys makes every update produce a generated key starting at
// first.
func (f *FakeTransaction) GenerateKeys(first int64) *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateKey = true
	f.nextKey = first
	return f
}

// ForwardOnly makes returned rows refuse Seek.
func (f *FakeTransaction) ForwardOnly() *FakeTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwardOnly = true
	return f
}

// Calls returns a copy of the recorded calls.
func (f *FakeTransaction) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many calls of op touched sql. An empty sql counts all.
func (f *FakeTransaction) Count(op, sql string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op && (sql == "" || c.SQL == sql) {
			n++
		}
	}
	return n
}

// Timeouts returns the statement timeouts that were set.
func (f *FakeTransaction) Timeouts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.timeouts...)
}

// OpenRows returns how many returned row cursors are still open.
func (f *FakeTransaction) OpenRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.openRows {
		if !r.Closed() {
			n++
		}
	}
	return n
}

func (f *FakeTransaction) record(op, sql string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, SQL: sql, Args: args})
}

func (f *FakeTransaction) Conn(context.Context) (driver.Conn, error) {
	if f.ConnErr != nil {
		return nil, f.ConnErr
	}
	return &fakeConn{tx: f}, nil
}

func (f *FakeTransaction) Commit(context.Context) error {
	f.record("commit", "", nil)
	return f.CommitErr
}

func (f *FakeTransaction) Rollback(context.Context) error {
	f.record("rollback", "", nil)
	return f.RollbackErr
}

func (f *FakeTransaction) Close() error {
	f.record("close", "", nil)
	return f.CloseErr
}

func (f *FakeTransaction) Timeout() time.Duration {
	return f.TxTimeout
}

type fakeConn struct {
	tx *FakeTransaction
}

func (c *fakeConn) Prepare(_ context.Context, sql string) (driver.Stmt, error) {
	c.tx.record("prepare", sql, nil)
	return &FakeStmt{tx: c.tx, sql: sql}, nil
}

// FakeStmt is the statement handed out by FakeTransaction.
type FakeStmt struct {
	tx      *FakeTransaction
	sql     string
	batch   [][]any
	keys    [][]any
	outs    []any
	closed  bool
	timeout time.Duration
}

func (s *FakeStmt) SetTimeout(d time.Duration) {
	s.timeout = d
	s.tx.mu.Lock()
	s.tx.timeouts = append(s.tx.timeouts, d)
	s.tx.mu.Unlock()
}

func (s *FakeStmt) Exec(_ context.Context, args []driver.Arg) (int64, error) {
	values := driver.Values(args)
	s.tx.record("exec", s.sql, values)
	s.keys = nil
	return s.exec()
}

func (s *FakeStmt) exec() (int64, error) {
	f := s.tx
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[s.sql]; err != nil {
		return 0, err
	}
	if f.generateKey {
		s.keys = append(s.keys, []any{f.nextKey})
		f.nextKey++
	}
	s.outs = f.outValues[s.sql]
	if n, ok := f.updates[s.sql]; ok {
		return n, nil
	}
	return 1, nil
}

func (s *FakeStmt) Query(_ context.Context, args []driver.Arg) (driver.Rows, error) {
	values := driver.Values(args)
	s.tx.record("query", s.sql, values)

	f := s.tx
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil, errors.New("statement is closed")
	}
	if err := f.failures[s.sql]; err != nil {
		return nil, err
	}
	sets, ok := f.results[s.sql]
	if !ok {
		return nil, errors.Errorf("no result scripted for %q", s.sql)
	}
	s.outs = f.outValues[s.sql]
	rows := driver.NewMemoryRows(sets...)
	rows.ForwardOnly = f.forwardOnly
	f.openRows = append(f.openRows, rows)
	return rows, nil
}

func (s *FakeStmt) AddBatch(args []driver.Arg) {
	s.tx.record("add_batch", s.sql, driver.Values(args))
	s.batch = append(s.batch, driver.Values(args))
}

func (s *FakeStmt) ExecBatch(context.Context) ([]int64, error) {
	s.tx.record("exec_batch", s.sql, nil)
	batch := s.batch
	s.batch = nil
	s.keys = nil

	s.tx.mu.Lock()
	failure, failing := s.tx.batchFail[s.sql]
	s.tx.mu.Unlock()

	counts := make([]int64, 0, len(batch))
	for i := range batch {
		if failing && failure.index == i {
			return counts, &driver.BatchUpdateError{Counts: counts, Err: failure.err}
		}
		n, err := s.exec()
		if err != nil {
			return counts, &driver.BatchUpdateError{Counts: counts, Err: err}
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func (s *FakeStmt) GeneratedKeys() (driver.Rows, error) {
	if len(s.keys) == 0 {
		return nil, nil
	}
	return driver.NewMemoryRows(driver.ResultSet{
		Columns: []driver.Column{{Name: "GENERATED_KEY", DBType: "INTEGER", GoType: reflect.TypeOf(int64(0))}},
		Rows:    s.keys,
	}), nil
}

func (s *FakeStmt) OutValue(i int) any {
	if i < 0 || i >= len(s.outs) {
		return nil
	}
	return s.outs[i]
}

func (s *FakeStmt) Close() error {
	if !s.closed {
		s.closed = true
		s.tx.record("close_stmt", s.sql, nil)
	}
	return nil
}
