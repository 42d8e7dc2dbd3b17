package mapping

import (
	"context"
	"reflect"
	"time"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/driver"
)

// ResultSetType describes the scrolling capability requested for a query.
type ResultSetType int

const (
	ForwardOnly ResultSetType = iota
	ScrollInsensitive
)

// KeyGenerator populates generated keys on parameter objects.
type KeyGenerator interface {
	ProcessBefore(ctx context.Context, ms *MappedStatement, param any) error
	ProcessAfter(ctx context.Context, ms *MappedStatement, stmt driver.Stmt, param any) error
}

// BatchKeyGenerator is implemented by key generators that can assign the
// keys of a whole batch at once.
type BatchKeyGenerator interface {
	KeyGenerator
	ProcessBatch(ctx context.Context, ms *MappedStatement, stmt driver.Stmt, params []any) error
}

// MappedStatement is the descriptor of one executable statement.
type MappedStatement struct {
	ID            string
	Resource      string
	Kind          StatementKind
	Command       CommandType
	SQLSource     SQLSource
	ResultMaps    []*ResultMap
	ParameterType reflect.Type
	ResultSetType ResultSetType

	KeyGenerator  KeyGenerator
	KeyProperties []string
	KeyColumns    []string

	FlushCacheRequired bool
	UseCache           bool
	ResultOrdered      bool
	// ResultSets names the result sets returned by a multi result set call.
	ResultSets []string
	Timeout    time.Duration
	FetchSize  int
	// Cache is the shared cache of the statement's namespace.
	Cache cache.Cache
}

// NewStatement returns a statement with the defaults for cmd: selects use
// the cache, everything else flushes it.
func NewStatement(id string, cmd CommandType, source SQLSource, resultMaps ...*ResultMap) *MappedStatement {
	return &MappedStatement{
		ID:                 id,
		Command:            cmd,
		SQLSource:          source,
		ResultMaps:         resultMaps,
		FlushCacheRequired: cmd != Select,
		UseCache:           cmd == Select,
	}
}

// BoundSQL renders the statement for param.
func (ms *MappedStatement) BoundSQL(param any) *BoundSQL {
	return ms.SQLSource.BoundSQL(param)
}
