package executor

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/executor/resultset"
	"github.com/goliatone/go-sqlexec/reflection"
)

// deferredLoad sets a property from a session cache entry once that entry
// holds a finished result.
type deferredLoad struct {
	meta       *reflection.MetaObject
	property   string
	key        *cache.Key
	localCache *cache.PerpetualCache
	target     reflect.Type
}

func (d *deferredLoad) canLoad() bool {
	v, ok := d.localCache.Get(d.key)
	return ok && v != nil && v != executionPlaceholder
}

func (d *deferredLoad) load() error {
	v, _ := d.localCache.Get(d.key)
	list, _ := v.([]any)
	value, err := resultset.Extract(list, d.target)
	if err != nil {
		return errors.Wrapf(err, "deferred load of %s", d.property)
	}
	return d.meta.Set(d.property, value)
}
