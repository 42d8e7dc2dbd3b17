package executor

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
)

// parameterValues resolves parameter mapping properties against the bound
// SQL's additional parameters and the parameter object.
type parameterValues struct {
	cfg    *mapping.Configuration
	param  any
	bound  *mapping.BoundSQL
	scalar bool
	meta   *reflection.MetaObject
}

func newParameterValues(cfg *mapping.Configuration, param any, bound *mapping.BoundSQL) *parameterValues {
	pv := &parameterValues{cfg: cfg, param: param, bound: bound}
	if param != nil {
		pv.scalar = cfg.TypeHandlers.Has(reflect.TypeOf(param))
	}
	return pv
}

func (pv *parameterValues) get(property string) any {
	switch {
	case pv.bound.HasAdditionalParameter(property):
		return pv.bound.AdditionalParameter(property)
	case pv.param == nil:
		return nil
	case pv.scalar:
		return pv.param
	}
	if pv.meta == nil {
		meta, err := pv.cfg.NewMetaObject(pv.param)
		if err != nil {
			return nil
		}
		pv.meta = meta
	}
	v, err := pv.meta.Get(property)
	if err != nil {
		return nil
	}
	return v
}

// statementHandler prepares, binds and runs one statement.
type statementHandler struct {
	e      *Executor
	ms     *mapping.MappedStatement
	param  any
	bounds mapping.RowBounds
	rh     resultset.ResultHandler
	bound  *mapping.BoundSQL
}

// newStatementHandler runs the key generator's before step when no bound
// SQL is supplied, so generated values are part of the bound parameters.
func newStatementHandler(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, bound *mapping.BoundSQL) (*statementHandler, error) {
	if bound == nil {
		if ms.KeyGenerator != nil {
			if err := ms.KeyGenerator.ProcessBefore(ctx, ms, param); err != nil {
				return nil, errors.Wrapf(err, "key generator for %s", ms.ID)
			}
		}
		bound = ms.BoundSQL(param)
	}
	return &statementHandler{e: e, ms: ms, param: param, bounds: bounds, rh: rh, bound: bound}, nil
}

func (s *statementHandler) prepare(ctx context.Context) (driver.Stmt, error) {
	conn, err := s.e.conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get connection")
	}
	stmt, err := conn.Prepare(ctx, s.bound.SQL)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare %s", s.ms.ID)
	}
	s.applyTimeout(stmt)
	return stmt, nil
}

func (s *statementHandler) applyTimeout(stmt driver.Stmt) {
	driver.ApplyTimeout(stmt, s.e.cfg.StatementTimeout(s.ms), s.e.tx.Timeout())
}

func (s *statementHandler) args() []driver.Arg {
	values := newParameterValues(s.e.cfg, s.param, s.bound)
	args := make([]driver.Arg, len(s.bound.ParameterMappings))
	for i, pm := range s.bound.ParameterMappings {
		arg := driver.Arg{Name: pm.Property, Out: pm.IsOutput()}
		if pm.Mode != mapping.Out {
			arg.Value = values.get(pm.Property)
		}
		args[i] = arg
	}
	return args
}

func (s *statementHandler) resultHandler() *resultset.Handler {
	return resultset.NewHandler(s.e.wrapper, s.e.cfg, s.ms, s.param, s.bounds, s.rh, s.bound)
}

func (s *statementHandler) update(ctx context.Context, stmt driver.Stmt) (int64, error) {
	n, err := stmt.Exec(ctx, s.args())
	if err != nil {
		return 0, errors.Wrapf(err, "update %s", s.ms.ID)
	}
	if s.ms.KeyGenerator != nil {
		if err := s.ms.KeyGenerator.ProcessAfter(ctx, s.ms, stmt, s.param); err != nil {
			return 0, err
		}
	}
	if s.ms.Kind == mapping.Callable {
		if err := s.resultHandler().HandleOutputParameters(ctx, stmt); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *statementHandler) batch(stmt driver.Stmt) {
	stmt.AddBatch(s.args())
}

func (s *statementHandler) query(ctx context.Context, stmt driver.Stmt) ([]any, error) {
	rows, err := stmt.Query(ctx, s.args())
	if err != nil {
		return nil, err
	}
	h := s.resultHandler()
	list, err := h.HandleResultSets(ctx, rows)
	if err != nil {
		return nil, err
	}
	if s.ms.Kind == mapping.Callable {
		if err := h.HandleOutputParameters(ctx, stmt); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// queryCursor hands stmt to the cursor, which closes it with the rows.
func (s *statementHandler) queryCursor(ctx context.Context, stmt driver.Stmt) (*resultset.Cursor, error) {
	rows, err := stmt.Query(ctx, s.args())
	if err != nil {
		return nil, err
	}
	return s.resultHandler().HandleCursorResultSets(ctx, &stmtRows{Rows: rows, stmt: stmt})
}

// stmtRows closes its statement together with the rows.
type stmtRows struct {
	driver.Rows
	stmt driver.Stmt
}

func (r *stmtRows) Close() error {
	err := r.Rows.Close()
	if serr := r.stmt.Close(); err == nil {
		err = serr
	}
	return err
}

func closeStatement(stmt driver.Stmt) {
	if stmt != nil {
		_ = stmt.Close()
	}
}
