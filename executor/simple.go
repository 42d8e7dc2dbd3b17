package executor

import (
	"context"

	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/mapping"
)

// simpleStrategy prepares, runs and closes a statement per call.
type simpleStrategy struct{}

func (simpleStrategy) doUpdate(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any) (int64, error) {
	sh, err := newStatementHandler(ctx, e, ms, param, mapping.DefaultRowBounds, nil, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := sh.prepare(ctx)
	if err != nil {
		return 0, err
	}
	defer closeStatement(stmt)
	return sh.update(ctx, stmt)
}

func (simpleStrategy) doFlushStatements(context.Context, *Executor, bool) ([]*BatchResult, error) {
	return []*BatchResult{}, nil
}

func (simpleStrategy) doQuery(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, bound *mapping.BoundSQL) ([]any, error) {
	return runQuery(ctx, e, ms, param, bounds, rh, bound)
}

func (simpleStrategy) doQueryCursor(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*resultset.Cursor, error) {
	return runQueryCursor(ctx, e, ms, param, bounds, bound)
}

func runQuery(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, bound *mapping.BoundSQL) ([]any, error) {
	sh, err := newStatementHandler(ctx, e, ms, param, bounds, rh, bound)
	if err != nil {
		return nil, err
	}
	stmt, err := sh.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStatement(stmt)
	return sh.query(ctx, stmt)
}

func runQueryCursor(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*resultset.Cursor, error) {
	sh, err := newStatementHandler(ctx, e, ms, param, bounds, nil, bound)
	if err != nil {
		return nil, err
	}
	stmt, err := sh.prepare(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := sh.queryCursor(ctx, stmt)
	if err != nil {
		closeStatement(stmt)
		return nil, err
	}
	return cursor, nil
}
