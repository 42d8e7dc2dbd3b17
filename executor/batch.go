package executor

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/mapping"
)

// BatchUpdateReturnValue is returned by Update on a batch executor; the real
// counts are only known after a flush.
const BatchUpdateReturnValue int64 = math.MinInt32 + 1002

// BatchResult is the outcome of one physical batch.
type BatchResult struct {
	MappedStatement *mapping.MappedStatement
	SQL             string
	Parameters      []any
	UpdateCounts    []int64
}

func newBatchResult(ms *mapping.MappedStatement, sql string, param any) *BatchResult {
	return &BatchResult{MappedStatement: ms, SQL: sql, Parameters: []any{param}}
}

// AddParameter records one more parameter object for the batch.
func (r *BatchResult) AddParameter(param any) {
	r.Parameters = append(r.Parameters, param)
}

// BatchError reports the batch that failed during a flush. Results holds
// the batches that ran before it, which the transaction rollback undoes.
type BatchError struct {
	Index     int
	Succeeded int
	Results   []*BatchResult
	Failed    *BatchResult
	Err       error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("%s (batch index #%d) failed.", e.Failed.MappedStatement.ID, e.Index+1)
	if e.Succeeded > 0 {
		msg += fmt.Sprintf(" %d prior sub executor(s) completed successfully, but will be rolled back.", e.Succeeded)
	}
	return msg
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (e *BatchError) Cause() error {
	return e.Err
}

// batchStrategy groups consecutive updates that share SQL text and
// statement into one driver batch.
type batchStrategy struct {
	statements []driver.Stmt
	results    []*BatchResult
	currentSQL string
	currentMS  *mapping.MappedStatement
}

func (b *batchStrategy) doUpdate(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any) (int64, error) {
	sh, err := newStatementHandler(ctx, e, ms, param, mapping.DefaultRowBounds, nil, nil)
	if err != nil {
		return 0, err
	}

	sql := sh.bound.SQL
	var stmt driver.Stmt
	if n := len(b.statements); n > 0 && sql == b.currentSQL && ms == b.currentMS {
		stmt = b.statements[n-1]
		sh.applyTimeout(stmt)
		b.results[n-1].AddParameter(param)
	} else {
		if stmt, err = sh.prepare(ctx); err != nil {
			return 0, err
		}
		b.currentSQL = sql
		b.currentMS = ms
		b.statements = append(b.statements, stmt)
		b.results = append(b.results, newBatchResult(ms, sql, param))
		e.logger.Debug("opened batch", "statement", ms.ID, "batches", len(b.statements))
	}
	sh.batch(stmt)
	return BatchUpdateReturnValue, nil
}

func (b *batchStrategy) doFlushStatements(ctx context.Context, e *Executor, rollback bool) ([]*BatchResult, error) {
	defer b.reset()
	if rollback {
		return []*BatchResult{}, nil
	}

	results := make([]*BatchResult, 0, len(b.statements))
	for i, stmt := range b.statements {
		br := b.results[i]
		counts, err := stmt.ExecBatch(ctx)
		if err != nil {
			var bue *driver.BatchUpdateError
			if errors.As(err, &bue) {
				return nil, &BatchError{Index: i, Succeeded: i, Results: results, Failed: br, Err: err}
			}
			return nil, errors.Wrapf(err, "flush %s", br.MappedStatement.ID)
		}
		br.UpdateCounts = counts

		ms := br.MappedStatement
		switch kg := ms.KeyGenerator.(type) {
		case nil:
		case mapping.BatchKeyGenerator:
			if err := kg.ProcessBatch(ctx, ms, stmt, br.Parameters); err != nil {
				return nil, err
			}
		default:
			for _, param := range br.Parameters {
				if err := kg.ProcessAfter(ctx, ms, stmt, param); err != nil {
					return nil, err
				}
			}
		}
		results = append(results, br)
	}
	if len(results) > 0 {
		e.logger.Debug("flushed batches", "batches", len(results))
	}
	return results, nil
}

func (b *batchStrategy) reset() {
	for _, stmt := range b.statements {
		closeStatement(stmt)
	}
	b.currentSQL = ""
	b.currentMS = nil
	b.statements = nil
	b.results = nil
}

func (b *batchStrategy) doQuery(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, rh resultset.ResultHandler, bound *mapping.BoundSQL) ([]any, error) {
	if _, err := e.flushStatements(ctx, false); err != nil {
		return nil, err
	}
	return runQuery(ctx, e, ms, param, bounds, rh, bound)
}

func (b *batchStrategy) doQueryCursor(ctx context.Context, e *Executor, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) (*resultset.Cursor, error) {
	if _, err := e.flushStatements(ctx, false); err != nil {
		return nil, err
	}
	return runQueryCursor(ctx, e, ms, param, bounds, bound)
}
