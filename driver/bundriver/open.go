package bundriver

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("unsupported driver")

// Dialect returns the bun dialect for a driver name.
func Dialect(driverName string) (schema.Dialect, error) {
	switch driverName {
	case DriverSQLite:
		return sqlitedialect.New(), nil
	case DriverPostgres:
		return pgdialect.New(), nil
	}
	return nil, errors.Wrap(ErrUnsupportedDriver, driverName)
}

// Open opens dsn with driverName and wraps it in a bun.DB. When logger is
// not nil every query is logged at debug level.
func Open(driverName, dsn string, logger *slog.Logger) (*bun.DB, error) {
	dialect, err := Dialect(driverName)
	if err != nil {
		return nil, err
	}
	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driverName)
	}
	if driverName == DriverSQLite {
		sqldb.SetMaxOpenConns(1)
	}
	db := bun.NewDB(sqldb, dialect)
	if logger != nil {
		db.AddQueryHook(&LogHook{logger: logger.With("component", "bun")})
	}
	return db, nil
}

// LogHook logs executed queries with their duration.
type LogHook struct {
	logger *slog.Logger
}

var _ bun.QueryHook = (*LogHook)(nil)

func (h *LogHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *LogHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	attrs := []any{"query", event.Query, "duration", time.Since(event.StartTime)}
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		h.logger.DebugContext(ctx, "query failed", append(attrs, "error", event.Err)...)
		return
	}
	h.logger.DebugContext(ctx, "query", attrs...)
}
