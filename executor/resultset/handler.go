// Package resultset turns driver rows into result objects.
//
// A Handler is created per statement execution. Result maps without nested
// result maps go through a flat path that builds one object per row. Result
// maps with nested result maps group rows by identity: each object is
// memoized under a key combining its own row key with its parent's, so one
// to many joins collapse into one parent with a populated collection, and a
// result map that refers back to itself links to the object already being
// built on the current path.
//
// Nested queries run through the executor. When the executor already holds
// their result they are scheduled as deferred loads; lazy ones are handed to
// the object through LazyLoadable or loaded before the object is returned.
package resultset

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
	"github.com/goliatone/go-sqlexec/typehandler"
)

var (
	ErrNoResultMaps        = errors.New("no result maps were found for the mapped statement")
	ErrTooManyResults      = errors.New("too many results")
	ErrUnknownColumn       = errors.New("unknown column detected on auto-mapping")
	ErrCursorResultMaps    = errors.New("cursor results cannot be mapped to multiple result maps")
	ErrUnsafeRowBounds     = errors.New("mapped statements with nested result mappings cannot be safely constrained by row bounds")
	ErrUnsafeResultHandler = errors.New("mapped statements with nested result mappings cannot be safely used with a custom result handler")
	ErrCannotCreate        = errors.New("cannot create result object")
	ErrAmbiguousResultSet  = errors.New("two different properties are mapped to the same result set")
)

type deferredValue struct{}

// deferred marks a property whose value arrives later.
var deferred any = deferredValue{}

type pendingRelation struct {
	meta    *reflection.MetaObject
	mapping mapping.ResultMapping
}

type autoMapping struct {
	column   string
	property string
	handler  typehandler.Handler
	nilable  bool
}

// Handler assembles the result sets of one statement execution.
type Handler struct {
	executor Executor
	cfg      *mapping.Configuration
	ms       *mapping.MappedStatement
	param    any
	bounds   mapping.RowBounds
	bound    *mapping.BoundSQL
	result   ResultHandler
	logger   *slog.Logger

	nestedResultObjects map[string]any
	ancestorObjects     map[string]any
	previousRowValue    any
	nextResultMaps      map[string]mapping.ResultMapping
	pendingRelations    map[string][]pendingRelation
	autoMappings        map[string][]autoMapping
}

// NewHandler returns a handler for one execution of ms. result may be nil,
// in which case objects are collected and returned.
func NewHandler(exec Executor, cfg *mapping.Configuration, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, result ResultHandler, bound *mapping.BoundSQL) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		executor:            exec,
		cfg:                 cfg,
		ms:                  ms,
		param:               param,
		bounds:              bounds,
		bound:               bound,
		result:              result,
		logger:              logger.With("component", "resultset", "statement", ms.ID),
		nestedResultObjects: make(map[string]any),
		ancestorObjects:     make(map[string]any),
		nextResultMaps:      make(map[string]mapping.ResultMapping),
		pendingRelations:    make(map[string][]pendingRelation),
		autoMappings:        make(map[string][]autoMapping),
	}
}

// HandleResultSets maps every result set of rows and closes it. With one
// result map the objects are returned directly; with several, one list per
// result set is returned.
func (h *Handler) HandleResultSets(ctx context.Context, rows driver.Rows) ([]any, error) {
	defer rows.Close()

	var multiple []any
	rs := newRowSet(rows, h.cfg.TypeHandlers)
	resultMaps := h.ms.ResultMaps
	if len(resultMaps) < 1 {
		return nil, errors.Wrapf(ErrNoResultMaps, "statement %s", h.ms.ID)
	}

	count := 0
	for rs != nil && count < len(resultMaps) {
		if err := h.handleResultSet(ctx, rs, resultMaps[count], &multiple, nil); err != nil {
			return nil, err
		}
		rs = h.nextRowSet(rows)
		h.cleanUpAfterResultSet()
		count++
	}

	for rs != nil && count < len(h.ms.ResultSets) {
		if parent, ok := h.nextResultMaps[h.ms.ResultSets[count]]; ok {
			rm, err := h.cfg.ResultMap(parent.NestedResultMapID)
			if err != nil {
				return nil, err
			}
			if err := h.handleResultSet(ctx, rs, rm, nil, &parent); err != nil {
				return nil, err
			}
		}
		rs = h.nextRowSet(rows)
		h.cleanUpAfterResultSet()
		count++
	}

	if len(multiple) == 1 {
		if list, ok := multiple[0].([]any); ok {
			return list, nil
		}
	}
	if multiple == nil {
		return []any{}, nil
	}
	return multiple, nil
}

// HandleCursorResultSets returns a cursor over the first result set. The
// statement must have exactly one result map.
func (h *Handler) HandleCursorResultSets(_ context.Context, rows driver.Rows) (*Cursor, error) {
	if len(h.ms.ResultMaps) != 1 {
		rows.Close()
		return nil, errors.Wrapf(ErrCursorResultMaps, "statement %s has %d", h.ms.ID, len(h.ms.ResultMaps))
	}
	return newCursor(h, newRowSet(rows, h.cfg.TypeHandlers), h.ms.ResultMaps[0], h.bounds), nil
}

func (h *Handler) nextRowSet(rows driver.Rows) *RowSet {
	if !rows.NextResultSet() {
		return nil
	}
	return newRowSet(rows, h.cfg.TypeHandlers)
}

func (h *Handler) cleanUpAfterResultSet() {
	clear(h.nestedResultObjects)
}

func (h *Handler) handleResultSet(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, multiple *[]any, parent *mapping.ResultMapping) error {
	if parent != nil {
		return h.handleRowValues(ctx, rs, rm, nil, mapping.DefaultRowBounds, parent)
	}
	if h.result != nil {
		return h.handleRowValues(ctx, rs, rm, h.result, h.bounds, nil)
	}
	list := NewListHandler()
	if err := h.handleRowValues(ctx, rs, rm, list, h.bounds, nil); err != nil {
		return err
	}
	*multiple = append(*multiple, list.Results())
	return nil
}

func (h *Handler) handleRowValues(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, rh ResultHandler, bounds mapping.RowBounds, parent *mapping.ResultMapping) error {
	if !rm.HasNestedResultMaps {
		return h.handleRowValuesForSimple(ctx, rs, rm, rh, bounds, parent)
	}
	if h.cfg.SafeRowBoundsEnabled && (bounds.Offset > 0 || bounds.Limit < mapping.DefaultRowBounds.Limit) {
		return errors.Wrapf(ErrUnsafeRowBounds, "statement %s", h.ms.ID)
	}
	if h.result != nil && h.cfg.SafeResultHandlerEnabled && !h.ms.ResultOrdered {
		return errors.Wrapf(ErrUnsafeResultHandler, "statement %s", h.ms.ID)
	}
	return h.handleRowValuesForNested(ctx, rs, rm, rh, bounds, parent)
}

func (h *Handler) handleRowValuesForSimple(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, rh ResultHandler, bounds mapping.RowBounds, parent *mapping.ResultMapping) error {
	rc := &ResultContext{}
	if err := skipRows(rs.rows, bounds.Offset); err != nil {
		return err
	}
	for shouldProcessMoreRows(rc, bounds) && rs.rows.Next() {
		resolved, err := h.resolveDiscriminatedResultMap(rs, rm, "")
		if err != nil {
			return err
		}
		rowValue, err := h.getRowValue(ctx, rs, resolved, "")
		if err != nil {
			return err
		}
		if err := h.storeObject(rh, rc, rowValue, parent, rs); err != nil {
			return err
		}
	}
	return rs.rows.Err()
}

func (h *Handler) storeObject(rh ResultHandler, rc *ResultContext, rowValue any, parent *mapping.ResultMapping, rs *RowSet) error {
	if parent != nil {
		return h.linkToParents(rs, *parent, rowValue)
	}
	rc.next(rowValue)
	rh.HandleResult(rc)
	return nil
}

func shouldProcessMoreRows(rc *ResultContext, bounds mapping.RowBounds) bool {
	return !rc.IsStopped() && rc.ResultCount() < bounds.Limit
}

func skipRows(rows driver.Rows, offset int) error {
	if offset <= 0 {
		return nil
	}
	seeked, err := rows.Seek(offset)
	if err != nil {
		return errors.Wrap(err, "seek")
	}
	if seeked {
		return nil
	}
	for i := 0; i < offset; i++ {
		if !rows.Next() {
			break
		}
	}
	return nil
}

// getRowValue builds the object of a flat result map for the current row.
func (h *Handler) getRowValue(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, prefix string) (any, error) {
	lazy := newLoaderMap()
	rowValue, usedConstructor, err := h.createResultObject(ctx, rs, rm, prefix)
	if err != nil || rowValue == nil || h.hasTypeHandlerForResultObject(rs, resultType(rm)) {
		return rowValue, err
	}

	meta, err := h.cfg.NewMetaObject(rowValue)
	if err != nil {
		return nil, err
	}
	found := usedConstructor
	if h.shouldApplyAutomaticMappings(rm, false) {
		ok, err := h.applyAutomaticMappings(rs, rm, meta, prefix)
		if err != nil {
			return nil, err
		}
		found = ok || found
	}
	ok, err := h.applyPropertyMappings(ctx, rs, rm, meta, lazy, prefix)
	if err != nil {
		return nil, err
	}
	found = ok || found || lazy.Size() > 0
	if !found && !h.cfg.ReturnInstanceForEmptyRow {
		return nil, nil
	}
	return rowValue, h.attachLoaders(ctx, rowValue, lazy)
}

func (h *Handler) attachLoaders(ctx context.Context, rowValue any, lazy *LoaderMap) error {
	if lazy.Size() == 0 {
		return nil
	}
	if target, ok := rowValue.(LazyLoadable); ok {
		target.AttachLoaders(lazy)
		return nil
	}
	return lazy.LoadAll(ctx)
}

func resultType(rm *mapping.ResultMap) reflect.Type {
	if rm.Type == nil {
		return anyType
	}
	return rm.Type
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

func (h *Handler) hasTypeHandlerForResultObject(rs *RowSet, t reflect.Type) bool {
	if len(rs.names) == 1 {
		return h.cfg.TypeHandlers.HasFor(t, rs.columns[0].DBType)
	}
	return h.cfg.TypeHandlers.Has(t)
}

func (h *Handler) shouldApplyAutomaticMappings(rm *mapping.ResultMap, nested bool) bool {
	if rm.AutoMapping != nil {
		return *rm.AutoMapping
	}
	if nested {
		return h.cfg.AutoMappingBehavior == mapping.AutoMappingFull
	}
	return h.cfg.AutoMappingBehavior != mapping.AutoMappingNone
}

// createResultObject instantiates the row object: scalar conversion, then
// declared constructor arguments, then the zero value, then a registered
// constructor matching the column types.
func (h *Handler) createResultObject(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, prefix string) (any, bool, error) {
	t := resultType(rm)
	factory := h.cfg.ObjectFactory

	switch {
	case h.hasTypeHandlerForResultObject(rs, t):
		v, err := h.createPrimitiveResultObject(rs, rm, t, prefix)
		return v, false, err
	case len(rm.ConstructorMappings) > 0:
		v, err := h.createParameterizedResultObject(ctx, rs, rm, t, prefix)
		return v, v != nil, err
	case t.Kind() == reflect.Interface || factory.HasDefaultConstructor(t):
		return factory.Create(t), false, nil
	case h.shouldApplyAutomaticMappings(rm, false):
		v, err := h.createByConstructorSignature(rs, t)
		return v, v != nil, err
	}
	return nil, false, errors.Wrapf(ErrCannotCreate, "do not know how to create an instance of %s", t)
}

func (h *Handler) createPrimitiveResultObject(rs *RowSet, rm *mapping.ResultMap, t reflect.Type, prefix string) (any, error) {
	var column string
	if len(rm.Mappings) > 0 {
		column = prependPrefix(rm.Mappings[0].Column, prefix)
	} else {
		column = rs.names[0]
	}
	return rs.TypeHandler(t, column).Result(rs.Value(column))
}

func (h *Handler) createParameterizedResultObject(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, t reflect.Type, prefix string) (any, error) {
	args := make([]any, 0, len(rm.ConstructorMappings))
	found := false
	for _, cm := range rm.ConstructorMappings {
		var (
			value any
			err   error
		)
		switch {
		case cm.NestedQueryID != "" && cm.ResultSet == "":
			value, err = h.getNestedQueryConstructorValue(ctx, rs, cm, prefix)
		case cm.NestedResultMapID != "" && cm.ResultSet == "":
			var nested *mapping.ResultMap
			if nested, err = h.cfg.ResultMap(cm.NestedResultMapID); err == nil {
				value, err = h.getRowValue(ctx, rs, nested, columnPrefix(prefix, cm))
			}
		default:
			column := prependPrefix(cm.Column, prefix)
			value, err = h.mappingHandler(rs, cm, cm.GoType, column).Result(rs.Value(column))
		}
		if err != nil {
			return nil, err
		}
		args = append(args, value)
		found = found || value != nil
	}
	if !found {
		return nil, nil
	}
	return h.cfg.ObjectFactory.CreateWith(t, rm.ConstructorTypes(), args)
}

func (h *Handler) createByConstructorSignature(rs *RowSet, t reflect.Type) (any, error) {
	for _, c := range h.cfg.ObjectFactory.Constructors(t) {
		if len(c.Params) != len(rs.names) {
			continue
		}
		usable := true
		for i, p := range c.Params {
			if !rs.CanMap(p, rs.names[i]) {
				usable = false
				break
			}
		}
		if !usable {
			continue
		}
		args := make([]any, len(c.Params))
		for i, p := range c.Params {
			v, err := rs.TypeHandler(p, rs.names[i]).Result(rs.Value(rs.names[i]))
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return c.New(args)
	}
	return nil, errors.Wrapf(ErrCannotCreate, "no constructor of %s matches the columns %v", t, rs.names)
}

func (h *Handler) mappingHandler(rs *RowSet, m mapping.ResultMapping, t reflect.Type, column string) typehandler.Handler {
	if m.TypeHandler != nil {
		return m.TypeHandler
	}
	return rs.TypeHandler(t, column)
}

func (h *Handler) applyPropertyMappings(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, meta *reflection.MetaObject, lazy *LoaderMap, prefix string) (bool, error) {
	found := false
	for _, pm := range rm.PropertyMappings {
		column := prependPrefix(pm.Column, prefix)
		if pm.NestedResultMapID != "" {
			column = ""
		}
		if !pm.IsCompositeResult() && (column == "" || !rs.isMapped(rm, prefix, column)) && pm.ResultSet == "" {
			continue
		}

		value, err := h.getPropertyMappingValue(ctx, rs, meta, pm, lazy, prefix)
		if err != nil {
			return false, err
		}
		if pm.Property == "" {
			continue
		}
		if value == deferred {
			found = true
			continue
		}
		if value != nil {
			found = true
		}
		if value != nil || (h.cfg.CallSettersOnNulls && isNilable(meta.SetterType(pm.Property))) {
			if err := meta.Set(pm.Property, value); err != nil {
				return false, errors.Wrapf(err, "result map %s", rm.ID)
			}
		}
	}
	return found, nil
}

func (h *Handler) getPropertyMappingValue(ctx context.Context, rs *RowSet, meta *reflection.MetaObject, pm mapping.ResultMapping, lazy *LoaderMap, prefix string) (any, error) {
	switch {
	case pm.NestedQueryID != "":
		return h.getNestedQueryMappingValue(ctx, rs, meta, pm, lazy, prefix)
	case pm.ResultSet != "":
		if err := h.addPendingChildRelation(rs, meta, pm); err != nil {
			return nil, err
		}
		return deferred, nil
	}
	column := prependPrefix(pm.Column, prefix)
	t := pm.GoType
	if t == nil && pm.Property != "" {
		t = meta.SetterType(pm.Property)
	}
	return h.mappingHandler(rs, pm, t, column).Result(rs.Value(column))
}

func (h *Handler) getNestedQueryConstructorValue(ctx context.Context, rs *RowSet, cm mapping.ResultMapping, prefix string) (any, error) {
	nested, err := h.cfg.MappedStatement(cm.NestedQueryID)
	if err != nil {
		return nil, err
	}
	param, err := h.prepareParameterForNestedQuery(rs, cm, nested.ParameterType, prefix)
	if err != nil || param == nil {
		return nil, err
	}
	bound := nested.BoundSQL(param)
	key, err := h.executor.CreateCacheKey(nested, param, mapping.DefaultRowBounds, bound)
	if err != nil {
		return nil, err
	}
	return NewResultLoader(h.executor, nested, param, cm.GoType, key, bound).LoadResult(ctx)
}

func (h *Handler) getNestedQueryMappingValue(ctx context.Context, rs *RowSet, meta *reflection.MetaObject, pm mapping.ResultMapping, lazy *LoaderMap, prefix string) (any, error) {
	nested, err := h.cfg.MappedStatement(pm.NestedQueryID)
	if err != nil {
		return nil, err
	}
	param, err := h.prepareParameterForNestedQuery(rs, pm, nested.ParameterType, prefix)
	if err != nil || param == nil {
		return nil, err
	}
	bound := nested.BoundSQL(param)
	key, err := h.executor.CreateCacheKey(nested, param, mapping.DefaultRowBounds, bound)
	if err != nil {
		return nil, err
	}
	target := pm.GoType
	if target == nil {
		target = meta.SetterType(pm.Property)
	}

	if h.executor.IsCached(nested, key) {
		if err := h.executor.DeferLoad(nested, meta, pm.Property, key, target); err != nil {
			return nil, err
		}
		return deferred, nil
	}

	loader := NewResultLoader(h.executor, nested, param, target, key, bound)
	if pm.IsLazy(h.cfg.LazyLoadingEnabled) {
		if err := lazy.add(pm.Property, meta, loader); err != nil {
			return nil, err
		}
		return deferred, nil
	}
	return loader.LoadResult(ctx)
}

func (h *Handler) prepareParameterForNestedQuery(rs *RowSet, m mapping.ResultMapping, paramType reflect.Type, prefix string) (any, error) {
	if m.IsCompositeResult() {
		return h.prepareCompositeKeyParameter(rs, m, paramType, prefix)
	}
	column := prependPrefix(m.Column, prefix)
	var th typehandler.Handler
	if paramType != nil && h.cfg.TypeHandlers.Has(paramType) {
		th = h.cfg.TypeHandlers.Get(paramType)
	} else {
		th = rs.TypeHandler(nil, column)
	}
	return th.Result(rs.Value(column))
}

func (h *Handler) prepareCompositeKeyParameter(rs *RowSet, m mapping.ResultMapping, paramType reflect.Type, prefix string) (any, error) {
	var param any
	if paramType == nil || paramType.Kind() == reflect.Interface {
		param = map[string]any{}
	} else {
		param = h.cfg.ObjectFactory.Create(paramType)
	}
	meta, err := h.cfg.NewMetaObject(param)
	if err != nil {
		return nil, err
	}

	found := false
	for _, inner := range m.Composites {
		column := prependPrefix(inner.Column, prefix)
		t := meta.SetterType(inner.Property)
		value, err := rs.TypeHandler(t, column).Result(rs.Value(column))
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		if err := meta.Set(inner.Property, value); err != nil {
			return nil, err
		}
		found = true
	}
	if !found {
		return nil, nil
	}
	return param, nil
}

// resolveDiscriminatedResultMap follows discriminators until no case
// matches, a discriminator repeats, or a result map is visited twice.
func (h *Handler) resolveDiscriminatedResultMap(rs *RowSet, rm *mapping.ResultMap, prefix string) (*mapping.ResultMap, error) {
	visited := make(map[string]struct{})
	d := rm.Discriminator
	for d != nil {
		value, err := h.discriminatorValue(rs, d, prefix)
		if err != nil {
			return nil, err
		}
		id, ok := d.MapIDFor(value)
		if !ok || !h.cfg.HasResultMap(id) {
			break
		}
		if rm, err = h.cfg.ResultMap(id); err != nil {
			return nil, err
		}
		last := d
		d = rm.Discriminator
		if _, seen := visited[id]; d == last || seen {
			break
		}
		visited[id] = struct{}{}
	}
	return rm, nil
}

func (h *Handler) discriminatorValue(rs *RowSet, d *mapping.Discriminator, prefix string) (string, error) {
	column := prependPrefix(d.Mapping.Column, prefix)
	value, err := h.mappingHandler(rs, d.Mapping, d.Mapping.GoType, column).Result(rs.Value(column))
	if err != nil {
		return "", err
	}
	if value == nil {
		return "null", nil
	}
	if s, err := cast.ToStringE(value); err == nil {
		return s, nil
	}
	return fmt.Sprint(value), nil
}

func (h *Handler) createAutomaticMappings(rs *RowSet, rm *mapping.ResultMap, meta *reflection.MetaObject, prefix string) ([]autoMapping, error) {
	key := rm.ID + ":" + prefix
	if cached, ok := h.autoMappings[key]; ok {
		return cached, nil
	}

	upperPrefix := strings.ToUpper(prefix)
	out := []autoMapping{}
	for _, column := range rs.UnmappedColumns(rm, prefix) {
		name := column
		if upperPrefix != "" {
			if !strings.HasPrefix(strings.ToUpper(column), upperPrefix) {
				continue
			}
			name = column[len(upperPrefix):]
		}

		property := meta.FindProperty(name, h.cfg.MapUnderscoreToCamelCase)
		if property == "" || !meta.HasSetter(property) {
			if err := h.unknownColumn(column, name, nil); err != nil {
				return nil, err
			}
			continue
		}
		if _, mapped := rm.MappedProperties[property]; mapped {
			continue
		}
		t := meta.SetterType(property)
		if !rs.CanMap(t, column) {
			if err := h.unknownColumn(column, property, t); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, autoMapping{
			column:   column,
			property: property,
			handler:  rs.TypeHandler(t, column),
			nilable:  isNilable(t),
		})
	}
	h.autoMappings[key] = out
	return out, nil
}

func (h *Handler) unknownColumn(column, property string, t reflect.Type) error {
	switch h.cfg.AutoMappingUnknownColumnBehavior {
	case mapping.UnknownColumnWarning:
		h.logger.Warn("unknown column detected on auto-mapping",
			"column", column,
			"property", property,
			"property_type", fmt.Sprint(t),
		)
	case mapping.UnknownColumnFailing:
		return errors.Wrapf(ErrUnknownColumn, "statement %s: column=%s property=%s property_type=%v", h.ms.ID, column, property, t)
	}
	return nil
}

func (h *Handler) applyAutomaticMappings(rs *RowSet, rm *mapping.ResultMap, meta *reflection.MetaObject, prefix string) (bool, error) {
	mappings, err := h.createAutomaticMappings(rs, rm, meta, prefix)
	if err != nil {
		return false, err
	}
	found := false
	for _, m := range mappings {
		value, err := m.handler.Result(rs.Value(m.column))
		if err != nil {
			return false, errors.Wrapf(err, "column %s", m.column)
		}
		if value != nil {
			found = true
		}
		if value != nil || (h.cfg.CallSettersOnNulls && m.nilable) {
			if err := meta.Set(m.property, value); err != nil {
				return false, errors.Wrapf(err, "column %s", m.column)
			}
		}
	}
	return found, nil
}

func (h *Handler) addPendingChildRelation(rs *RowSet, meta *reflection.MetaObject, pm mapping.ResultMapping) error {
	if previous, ok := h.nextResultMaps[pm.ResultSet]; ok {
		if !sameParentMapping(previous, pm) {
			return errors.Wrapf(ErrAmbiguousResultSet, "result set %s: %s and %s", pm.ResultSet, previous.Property, pm.Property)
		}
	} else {
		h.nextResultMaps[pm.ResultSet] = pm
	}
	key := keyForMultipleResults(rs, pm, pm.Column, pm.Column)
	h.pendingRelations[key.String()] = append(h.pendingRelations[key.String()], pendingRelation{meta: meta, mapping: pm})
	return nil
}

// sameParentMapping reports whether a and b are the same property mapping
// seen on different rows.
func sameParentMapping(a, b mapping.ResultMapping) bool {
	return a.Property == b.Property &&
		a.NestedResultMapID == b.NestedResultMapID &&
		a.Column == b.Column &&
		a.ForeignColumn == b.ForeignColumn
}

func (h *Handler) linkToParents(rs *RowSet, parent mapping.ResultMapping, rowValue any) error {
	key := keyForMultipleResults(rs, parent, parent.Column, parent.ForeignColumn)
	for _, rel := range h.pendingRelations[key.String()] {
		if rowValue == nil {
			continue
		}
		if err := h.linkObjects(rel.meta, rel.mapping, rowValue); err != nil {
			return err
		}
	}
	return nil
}

// keyForMultipleResults keys parent and child rows of separate result sets
// by the string form of the joining columns.
func keyForMultipleResults(rs *RowSet, m mapping.ResultMapping, names, columns string) *cache.Key {
	key := cache.NewKey(m.ResultSet, m.Property, m.NestedResultMapID)
	nameList := splitColumns(names)
	columnList := splitColumns(columns)
	for i := 0; i < len(nameList) && i < len(columnList); i++ {
		value := rs.Value(columnList[i])
		if value == nil {
			continue
		}
		key.Update(nameList[i])
		key.Update(cast.ToString(value))
	}
	return key
}

func splitColumns(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func prependPrefix(column, prefix string) string {
	if column == "" || prefix == "" {
		return column
	}
	return prefix + column
}

func columnPrefix(parentPrefix string, m mapping.ResultMapping) string {
	return strings.ToUpper(parentPrefix + m.ColumnPrefix)
}

func isNilable(t reflect.Type) bool {
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return true
	}
	return false
}
