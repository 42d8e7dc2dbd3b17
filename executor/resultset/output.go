package resultset

import (
	"context"

	"github.com/pkg/errors"

	"github.com/goliatone/go-sqlexec/driver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/reflection"
)

// HandleOutputParameters copies OUT and INOUT values of a callable
// statement onto the parameter object. Values that are themselves row
// cursors are mapped through the parameter's result map.
func (h *Handler) HandleOutputParameters(ctx context.Context, stmt driver.Stmt) error {
	if h.param == nil || h.bound == nil {
		return nil
	}
	meta, err := h.cfg.NewMetaObject(h.param)
	if err != nil {
		return err
	}

	for i, pm := range h.bound.ParameterMappings {
		if !pm.IsOutput() {
			continue
		}
		raw := stmt.OutValue(i)
		if rows, ok := raw.(driver.Rows); ok {
			if err := h.handleRefCursorOutputParameter(ctx, rows, pm, meta); err != nil {
				return err
			}
			continue
		}

		th := pm.TypeHandler
		if th == nil {
			t := pm.GoType
			if t == nil {
				t = meta.SetterType(pm.Property)
			}
			th = h.cfg.TypeHandlers.Get(t)
		}
		value, err := th.Result(raw)
		if err != nil {
			return errors.Wrapf(err, "output parameter %s", pm.Property)
		}
		if err := meta.Set(pm.Property, value); err != nil {
			return errors.Wrapf(err, "output parameter %s", pm.Property)
		}
	}
	return nil
}

func (h *Handler) handleRefCursorOutputParameter(ctx context.Context, rows driver.Rows, pm mapping.ParameterMapping, meta *reflection.MetaObject) error {
	defer rows.Close()

	rm, err := h.cfg.ResultMap(pm.ResultMapID)
	if err != nil {
		return err
	}
	rs := newRowSet(rows, h.cfg.TypeHandlers)
	if h.result != nil {
		return h.handleRowValues(ctx, rs, rm, h.result, mapping.DefaultRowBounds, nil)
	}

	list := NewListHandler()
	if err := h.handleRowValues(ctx, rs, rm, list, mapping.DefaultRowBounds, nil); err != nil {
		return err
	}
	value, err := Extract(list.Results(), meta.SetterType(pm.Property))
	if err != nil {
		return err
	}
	return meta.Set(pm.Property, value)
}
