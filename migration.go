package objdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/andreyvit/objdb/cell"
)

// Migration is passed to Options.Migration when the file was written with
// an older schema version. By the time it runs, every row has already been
// converted to the new layout: properties that kept their name and type
// keep their values, everything else starts at its default. The callback
// fixes up the rest through DB, which is inside the upgrading write
// transaction.
type Migration struct {
	OldSchema  *Schema
	NewSchema  *Schema
	OldVersion uint64
	NewVersion uint64
	DB         *DB

	old map[*Table][]*DynamicObject
}

// OldObjects returns read-only views of the rows as they were before the
// upgrade.
func (m *Migration) OldObjects(table string) ([]*DynamicObject, error) {
	otbl := m.OldSchema.Table(table)
	if otbl == nil {
		return nil, fmt.Errorf("%s: %w", table, ErrUnknownType)
	}
	return m.old[otbl], nil
}

func (m *Migration) NewObjects(table string) (*Results[*DynamicObject], error) {
	return m.DB.DynamicAll(table)
}

// Enumerate calls fn for each object that existed in table before the
// upgrade, with its old view and its new, writable counterpart. The new
// object is nil if it has been deleted or the table is gone from the new
// schema.
func (m *Migration) Enumerate(table string, fn func(old, new *DynamicObject) error) error {
	olds, err := m.OldObjects(table)
	if err != nil {
		return err
	}
	ntbl := m.NewSchema.Table(table)
	for _, o := range olds {
		var n *DynamicObject
		if ntbl != nil {
			n = m.DB.dynamicObject(ntbl, o.key)
			if !n.IsValid() {
				n = nil
			}
		}
		if err := fn(o, n); err != nil {
			return err
		}
	}
	return nil
}

func (c *coordinator) migrate(db *DB, stx storageTx, stored map[string]*tableState, oldVer uint64, opt *Options, runCallback bool, now time.Time) error {
	oldSchema, err := schemaFromStates(stored)
	if err != nil {
		return err
	}
	w := &writer{reader: reader{c: c, stx: stx}}

	oldObjs := make(map[*Table][]*DynamicObject)
	for _, otbl := range oldSchema.tables {
		err := w.scanRows(otbl, func(key ObjKey, row *rowData) error {
			oldObjs[otbl] = append(oldObjs[otbl], db.frozenObject(otbl, key, row))
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, tbl := range c.schema.tables {
		ts, err := c.bindTable(stx, tbl, stored[tbl.name], now)
		if err != nil {
			return err
		}
		c.states[tbl] = ts
		otbl := oldSchema.Table(tbl.name)
		if otbl == nil {
			continue
		}
		for name, is := range ts.Indices {
			if err := stx.DeleteBucket(tbl.name, indexBucketPrefix+name); err != nil && !errors.Is(err, ErrBucketNotFound) {
				return err
			}
			if _, err := stx.CreateBucket(tbl.name, indexBucketPrefix+name); err != nil {
				return err
			}
			is.Built = false
		}
		for _, o := range oldObjs[otbl] {
			if _, err := w.putRow(tbl, o.key, convertRow(otbl, tbl, o.frozen), false); err != nil {
				return err
			}
		}
	}
	for _, otbl := range oldSchema.tables {
		if c.schema.Table(otbl.name) != nil {
			continue
		}
		if err := stx.DeleteBucket(otbl.name, ""); err != nil && !errors.Is(err, ErrBucketNotFound) {
			return err
		}
		c.logger.Info("objdb: dropped table", "table", otbl.name)
	}

	if !runCallback || opt.Migration == nil {
		return nil
	}
	m := &Migration{
		OldSchema:  oldSchema,
		NewSchema:  c.schema,
		OldVersion: oldVer,
		NewVersion: opt.SchemaVersion,
		DB:         db,
		old:        oldObjs,
	}
	c.logger.Info("objdb: migrating", "path", c.path, "from", oldVer, "to", opt.SchemaVersion)
	tx := db.attachTx(stx)
	err = safelyCall(func() error {
		return opt.Migration(m)
	})
	db.detachTx(tx)
	if err != nil {
		return configErrf(c.path, err, "migration from schema version %d to %d failed", oldVer, opt.SchemaVersion)
	}
	return nil
}

// convertRow carries values over to a new layout by property name. Values
// whose type changed are reset to defaults.
func convertRow(otbl, tbl *Table, old *rowData) *rowData {
	row := tbl.newRowData()
	for _, prop := range tbl.columns {
		op := otbl.propsByName[prop.Name]
		if op == nil || op.IsBacklink() || op.Coll != prop.Coll || op.Kind != prop.Kind || op.Target != prop.Target {
			continue
		}
		c := old.cols[op.col].clone()
		if !prop.elemNullable() {
			zero := zeroValue(prop.Kind)
			switch prop.Coll {
			case CollNone:
				if c.v.IsNull() {
					c.v = zero
				}
			case CollList, CollSet:
				for i, v := range c.items {
					if v.IsNull() {
						c.items[i] = zero
					}
				}
			case CollDictionary:
				for k, v := range c.dict {
					if v.IsNull() {
						c.dict[k] = zero
					}
				}
			}
		}
		if prop.Coll == CollSet {
			c.items = normalizeSet(c.items)
		}
		row.cols[prop.col] = c
	}
	return row
}

// normalizeSet sorts set elements and removes duplicates.
func normalizeSet(items []cell.Value) []cell.Value {
	out := make([]cell.Value, 0, len(items))
	for _, v := range items {
		out = setInsert(out, v)
	}
	return out
}
