// Package bundriver implements driver.Transaction on top of uptrace/bun.
//
// Statements are formatted by bun, so `?` placeholders work for every
// dialect. Batches run the statement once per buffered argument set inside
// the transaction and collect LastInsertId values as generated keys. Rows
// are forward only.
package bundriver

import (
	"context"
	"database/sql"
	"log/slog"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-sqlexec/driver"
)

// GeneratedKeyColumn names the single column of generated key rows.
const GeneratedKeyColumn = "GENERATED_KEY"

// Interface assertion to ensure Transaction can back an executor
var _ driver.Transaction = (*Transaction)(nil)

// Option configures a Transaction.
type Option func(*Transaction)

// WithTimeout bounds every statement run in the transaction.
func WithTimeout(d time.Duration) Option {
	return func(t *Transaction) {
		t.timeout = d
	}
}

// WithTxOptions sets the options used to begin the transaction.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(t *Transaction) {
		t.txOptions = opts
	}
}

// WithAutoCommit runs statements directly on the database without a
// transaction. Commit and Rollback become no-ops.
func WithAutoCommit() Option {
	return func(t *Transaction) {
		t.autoCommit = true
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transaction) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transaction lazily begins a bun transaction on first use.
type Transaction struct {
	db         *bun.DB
	tx         *bun.Tx
	txOptions  *sql.TxOptions
	timeout    time.Duration
	autoCommit bool
	logger     *slog.Logger
}

// New returns a transaction over db.
func New(db *bun.DB, opts ...Option) *Transaction {
	t := &Transaction{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "bundriver")
	return t
}

// Conn returns the connection of the current transaction, beginning one
// when needed.
func (t *Transaction) Conn(ctx context.Context) (driver.Conn, error) {
	if t.autoCommit {
		return &conn{db: t.db}, nil
	}
	if t.tx == nil {
		tx, err := t.db.BeginTx(ctx, t.txOptions)
		if err != nil {
			return nil, errors.Wrap(err, "begin transaction")
		}
		t.tx = &tx
		t.logger.Debug("transaction started")
	}
	return &conn{db: t.tx}, nil
}

// Commit commits the current transaction, if any.
func (t *Transaction) Commit(context.Context) error {
	if t.tx == nil {
		return nil
	}
	tx := t.tx
	t.tx = nil
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Rollback rolls back the current transaction, if any.
func (t *Transaction) Rollback(context.Context) error {
	if t.tx == nil {
		return nil
	}
	tx := t.tx
	t.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback")
	}
	return nil
}

// Close rolls back a transaction left open. The database stays open.
func (t *Transaction) Close() error {
	return t.Rollback(context.Background())
}

// Timeout returns the configured transaction timeout.
func (t *Transaction) Timeout() time.Duration {
	return t.timeout
}

type conn struct {
	db bun.IConn
}

func (c *conn) Prepare(_ context.Context, query string) (driver.Stmt, error) {
	return &stmt{db: c.db, query: query}, nil
}

type stmt struct {
	db      bun.IConn
	query   string
	timeout time.Duration
	batch   [][]any
	keys    [][]any
	closed  bool
}

func (s *stmt) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *stmt) Exec(ctx context.Context, args []driver.Arg) (int64, error) {
	if s.closed {
		return 0, errors.New("statement is closed")
	}
	s.keys = nil
	return s.exec(ctx, driver.Values(args))
}

func (s *stmt) exec(ctx context.Context, values []any) (int64, error) {
	ctx, cancel := driver.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, s.query, values...)
	if err != nil {
		return 0, err
	}
	if id, err := res.LastInsertId(); err == nil {
		s.keys = append(s.keys, []any{id})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *stmt) Query(ctx context.Context, args []driver.Arg) (driver.Rows, error) {
	if s.closed {
		return nil, errors.New("statement is closed")
	}
	ctx, cancel := driver.WithTimeout(ctx, s.timeout)
	r, err := s.db.QueryContext(ctx, s.query, driver.Values(args)...)
	if err != nil {
		cancel()
		return nil, err
	}
	rows, err := newRows(r, cancel)
	if err != nil {
		_ = r.Close()
		cancel()
		return nil, err
	}
	return rows, nil
}

func (s *stmt) AddBatch(args []driver.Arg) {
	s.batch = append(s.batch, driver.Values(args))
}

func (s *stmt) ExecBatch(ctx context.Context) ([]int64, error) {
	batch := s.batch
	s.batch = nil
	s.keys = nil
	counts := make([]int64, 0, len(batch))
	for _, values := range batch {
		n, err := s.exec(ctx, values)
		if err != nil {
			return counts, &driver.BatchUpdateError{Counts: counts, Err: err}
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func (s *stmt) GeneratedKeys() (driver.Rows, error) {
	if len(s.keys) == 0 {
		return nil, nil
	}
	return driver.NewMemoryRows(driver.ResultSet{
		Columns: []driver.Column{{Name: GeneratedKeyColumn, DBType: "INTEGER", GoType: reflect.TypeOf(int64(0))}},
		Rows:    s.keys,
	}), nil
}

// OutValue is always nil: output parameters are not supported by bun.
func (s *stmt) OutValue(int) any {
	return nil
}

func (s *stmt) Close() error {
	s.closed = true
	s.batch = nil
	return nil
}

// rows adapts *sql.Rows.
type rows struct {
	rows    *sql.Rows
	cancel  context.CancelFunc
	columns []driver.Column
	values  []any
	err     error
}

func newRows(r *sql.Rows, cancel context.CancelFunc) (*rows, error) {
	out := &rows{rows: r, cancel: cancel}
	if err := out.loadColumns(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rows) loadColumns() error {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return errors.Wrap(err, "column types")
	}
	r.columns = make([]driver.Column, len(types))
	for i, ct := range types {
		r.columns[i] = driver.Column{Name: ct.Name(), DBType: ct.DatabaseTypeName(), GoType: ct.ScanType()}
	}
	r.values = make([]any, len(types))
	return nil
}

func (r *rows) Columns() []driver.Column {
	return r.columns
}

func (r *rows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	dest := make([]any, len(r.columns))
	for i := range dest {
		dest[i] = &r.values[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		r.err = errors.Wrap(err, "scan")
		return false
	}
	return true
}

func (r *rows) Value(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

func (r *rows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *rows) Close() error {
	defer r.cancel()
	return r.rows.Close()
}

func (r *rows) Seek(int) (bool, error) {
	return false, nil
}

func (r *rows) NextResultSet() bool {
	if !r.rows.NextResultSet() {
		return false
	}
	if err := r.loadColumns(); err != nil {
		r.err = err
		return false
	}
	return true
}
