package resultset

import (
	"context"
	"reflect"
	"strings"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
)

func (h *Handler) handleRowValuesForNested(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, rh ResultHandler, bounds mapping.RowBounds, parent *mapping.ResultMapping) error {
	rc := &ResultContext{}
	if err := skipRows(rs.rows, bounds.Offset); err != nil {
		return err
	}

	rowValue := h.previousRowValue
	for shouldProcessMoreRows(rc, bounds) && rs.rows.Next() {
		resolved, err := h.resolveDiscriminatedResultMap(rs, rm, "")
		if err != nil {
			return err
		}
		rowKey, err := h.createRowKey(resolved, rs, "")
		if err != nil {
			return err
		}
		partial := h.nestedResultObjects[rowKey.String()]

		if h.ms.ResultOrdered {
			if partial == nil && rowValue != nil {
				clear(h.nestedResultObjects)
				if err := h.storeObject(rh, rc, rowValue, parent, rs); err != nil {
					return err
				}
			}
			if rowValue, err = h.getNestedRowValue(ctx, rs, resolved, rowKey, "", partial); err != nil {
				return err
			}
			continue
		}

		if rowValue, err = h.getNestedRowValue(ctx, rs, resolved, rowKey, "", partial); err != nil {
			return err
		}
		if partial == nil {
			if err := h.storeObject(rh, rc, rowValue, parent, rs); err != nil {
				return err
			}
		}
	}
	if err := rs.rows.Err(); err != nil {
		return err
	}

	if rowValue != nil && h.ms.ResultOrdered && shouldProcessMoreRows(rc, bounds) {
		if err := h.storeObject(rh, rc, rowValue, parent, rs); err != nil {
			return err
		}
		h.previousRowValue = nil
	} else if rowValue != nil {
		h.previousRowValue = rowValue
	}
	return nil
}

// getNestedRowValue builds or extends the object memoized under
// combinedKey. While its children are resolved the object is registered as
// the ancestor for its result map id.
func (h *Handler) getNestedRowValue(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, combinedKey *cache.Key, prefix string, partial any) (any, error) {
	if partial != nil {
		meta, err := h.cfg.NewMetaObject(partial)
		if err != nil {
			return nil, err
		}
		h.ancestorObjects[rm.ID] = partial
		_, err = h.applyNestedResultMappings(ctx, rs, rm, meta, prefix, combinedKey, false)
		delete(h.ancestorObjects, rm.ID)
		if err != nil {
			return nil, err
		}
		return partial, nil
	}

	lazy := newLoaderMap()
	rowValue, usedConstructor, err := h.createResultObject(ctx, rs, rm, prefix)
	if err != nil {
		return nil, err
	}
	if rowValue != nil && !h.hasTypeHandlerForResultObject(rs, resultType(rm)) {
		meta, err := h.cfg.NewMetaObject(rowValue)
		if err != nil {
			return nil, err
		}
		found := usedConstructor
		if h.shouldApplyAutomaticMappings(rm, true) {
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
		found = ok || found

		h.ancestorObjects[rm.ID] = rowValue
		ok, err = h.applyNestedResultMappings(ctx, rs, rm, meta, prefix, combinedKey, true)
		delete(h.ancestorObjects, rm.ID)
		if err != nil {
			return nil, err
		}
		found = ok || found || lazy.Size() > 0

		if !found && !h.cfg.ReturnInstanceForEmptyRow {
			rowValue = nil
		} else if err := h.attachLoaders(ctx, rowValue, lazy); err != nil {
			return nil, err
		}
	}
	if !combinedKey.IsNull() {
		h.nestedResultObjects[combinedKey.String()] = rowValue
	}
	return rowValue, nil
}

func (h *Handler) applyNestedResultMappings(ctx context.Context, rs *RowSet, rm *mapping.ResultMap, meta *reflection.MetaObject, parentPrefix string, parentKey *cache.Key, newObject bool) (bool, error) {
	found := false
	for _, pm := range rm.PropertyMappings {
		if pm.NestedResultMapID == "" || pm.ResultSet != "" {
			continue
		}

		if pm.ColumnPrefix == "" {
			if ancestor, ok := h.ancestorObjects[pm.NestedResultMapID]; ok {
				if newObject {
					if err := h.linkObjects(meta, pm, ancestor); err != nil {
						return false, err
					}
				}
				continue
			}
		}

		prefix := columnPrefix(parentPrefix, pm)
		nested, err := h.cfg.ResultMap(pm.NestedResultMapID)
		if err != nil {
			return false, err
		}
		if nested, err = h.resolveDiscriminatedResultMap(rs, nested, prefix); err != nil {
			return false, err
		}
		rowKey, err := h.createRowKey(nested, rs, prefix)
		if err != nil {
			return false, err
		}
		combinedKey := cache.Combine(rowKey, parentKey)
		rowValue := h.nestedResultObjects[combinedKey.String()]
		known := rowValue != nil

		if err := h.instantiateCollectionProperty(meta, pm); err != nil {
			return false, err
		}
		if !anyNotNullColumnHasValue(rs, pm, prefix) {
			continue
		}
		if rowValue, err = h.getNestedRowValue(ctx, rs, nested, combinedKey, prefix, rowValue); err != nil {
			return false, err
		}
		if rowValue != nil && !known {
			if err := h.linkObjects(meta, pm, rowValue); err != nil {
				return false, err
			}
			found = true
		}
	}
	return found, nil
}

// anyNotNullColumnHasValue gates a nested mapping on its not-null columns,
// or, without any, on the presence of a column carrying its prefix.
func anyNotNullColumnHasValue(rs *RowSet, pm mapping.ResultMapping, prefix string) bool {
	if len(pm.NotNullColumns) > 0 {
		for _, column := range pm.NotNullColumns {
			if rs.Value(prependPrefix(column, prefix)) != nil {
				return true
			}
		}
		return false
	}
	if prefix != "" {
		for _, name := range rs.names {
			if strings.HasPrefix(strings.ToUpper(name), prefix) {
				return true
			}
		}
		return false
	}
	return true
}

func (h *Handler) instantiateCollectionProperty(meta *reflection.MetaObject, pm mapping.ResultMapping) error {
	current, err := meta.Get(pm.Property)
	if err != nil || current != nil {
		return err
	}
	t := meta.SetterType(pm.Property)
	if !h.cfg.ObjectFactory.IsCollection(t) {
		return nil
	}
	return meta.Set(pm.Property, h.cfg.ObjectFactory.Create(t))
}

// linkObjects appends to collection properties and sets anything else.
func (h *Handler) linkObjects(meta *reflection.MetaObject, pm mapping.ResultMapping, rowValue any) error {
	if h.cfg.ObjectFactory.IsCollection(meta.SetterType(pm.Property)) {
		return meta.Append(pm.Property, rowValue)
	}
	return meta.Set(pm.Property, rowValue)
}

// createRowKey fingerprints the identity of the current row for rm. Keys
// with fewer than two contributions collapse to the null key.
func (h *Handler) createRowKey(rm *mapping.ResultMap, rs *RowSet, prefix string) (*cache.Key, error) {
	key := cache.NewKey(rm.ID)
	mappings := rm.IDMappings
	if len(mappings) == 0 {
		mappings = rm.PropertyMappings
	}

	var err error
	switch {
	case len(mappings) > 0:
		err = h.rowKeyForMappedProperties(rm, rs, key, mappings, prefix)
	case isMapType(resultType(rm)):
		rowKeyForMap(rs, key)
	default:
		err = h.rowKeyForUnmappedProperties(rm, rs, key, prefix)
	}
	if err != nil {
		return nil, err
	}
	return cache.NullIfDegenerate(key), nil
}

func (h *Handler) rowKeyForMappedProperties(rm *mapping.ResultMap, rs *RowSet, key *cache.Key, mappings []mapping.ResultMapping, prefix string) error {
	for _, m := range mappings {
		if m.NestedResultMapID != "" && m.ResultSet == "" {
			nested, err := h.cfg.ResultMap(m.NestedResultMapID)
			if err != nil {
				return err
			}
			if err := h.rowKeyForMappedProperties(nested, rs, key, nested.ConstructorMappings, columnPrefix(prefix, m)); err != nil {
				return err
			}
			continue
		}
		if m.NestedQueryID != "" {
			continue
		}
		column := prependPrefix(m.Column, prefix)
		if column == "" || !rs.isMapped(rm, prefix, column) {
			continue
		}
		value, err := h.mappingHandler(rs, m, m.GoType, column).Result(rs.Value(column))
		if err != nil {
			return err
		}
		if value != nil || h.cfg.ReturnInstanceForEmptyRow {
			key.Update(column)
			key.Update(value)
		}
	}
	return nil
}

func (h *Handler) rowKeyForUnmappedProperties(rm *mapping.ResultMap, rs *RowSet, key *cache.Key, prefix string) error {
	meta, err := h.cfg.NewMetaObject(h.cfg.ObjectFactory.Create(resultType(rm)))
	if err != nil {
		return err
	}
	for _, column := range rs.UnmappedColumns(rm, prefix) {
		property := column
		if prefix != "" {
			if !strings.HasPrefix(strings.ToUpper(column), prefix) {
				continue
			}
			property = column[len(prefix):]
		}
		if meta.FindProperty(property, h.cfg.MapUnderscoreToCamelCase) == "" {
			continue
		}
		if value := rs.Value(column); value != nil {
			key.Update(column)
			key.Update(value)
		}
	}
	return nil
}

func rowKeyForMap(rs *RowSet, key *cache.Key) {
	for _, column := range rs.names {
		if value := rs.Value(column); value != nil {
			key.Update(column)
			key.Update(value)
		}
	}
}

var orderedRowType = reflect.TypeOf((*reflection.OrderedRow)(nil))

func isMapType(t reflect.Type) bool {
	return t.Kind() == reflect.Interface || t.Kind() == reflect.Map || t == orderedRowType
}
