package objdb

import (
	"fmt"

	"github.com/andreyvit/objdb/cell"
)

// Add makes an unmanaged model managed by db, copying its field values into
// a new row. Links must point at objects already managed by db; adding a
// graph of new objects is done one object at a time, children first.
// Adding an object that is already managed by db does nothing.
func (db *DB) Add(m Model) error {
	return db.add(m, false)
}

// AddOrUpdate is Add for types with a primary key that overwrites the
// existing object with the same key instead of failing.
func (db *DB) AddOrUpdate(m Model) error {
	return db.add(m, true)
}

func (db *DB) add(m Model, update bool) error {
	if err := db.check(); err != nil {
		return err
	}
	tx := db.wtx
	if tx == nil {
		return ErrNotInWriteTransaction
	}
	if isNilModel(m) {
		return fmt.Errorf("%w: nil object", ErrUnknownType)
	}
	o := ObjectOf(m)
	if o.db != nil {
		if o.db == db {
			return nil
		}
		return ErrObjectManagedByOtherInstance
	}
	tbl, err := db.tableFor(m)
	if err != nil {
		return err
	}
	row, err := o.localRow(db, tbl)
	if err != nil {
		return err
	}

	if pk := tbl.primary; pk != nil {
		v := row.cols[pk.col].v
		existing, found, err := tx.w.lookupPrimary(tbl, v)
		if err != nil {
			return db.fail("lookup", err)
		}
		if found {
			if !update {
				return propErr(tbl, pk.Name, fmt.Errorf("%w: %v", ErrDuplicatePrimaryKey, v))
			}
			if _, err := tx.w.putRow(tbl, existing, row, false); err != nil {
				return db.fail("put", err)
			}
			o.attach(db, tbl, existing, m)
			tx.added = append(tx.added, o)
			return nil
		}
	}

	key, err := tx.w.newKey(tbl)
	if err != nil {
		return db.fail("new key", err)
	}
	o.attach(db, tbl, key, m)
	tx.added = append(tx.added, o)
	if pk := tbl.primary; pk != nil {
		o.pending = row
		if err := o.SetValueUnique(pk.Name, row.cols[pk.col].v); err != nil {
			o.detach()
			tx.added = tx.added[:len(tx.added)-1]
			return err
		}
		return nil
	}
	if _, err := tx.w.putRow(tbl, key, row, false); err != nil {
		o.detach()
		tx.added = tx.added[:len(tx.added)-1]
		return db.fail("put", err)
	}
	return nil
}

// CreateObject creates an object of the named table with default values.
// For tables with a primary key, the returned object must receive it
// through SetValueUnique before any other property is set; if it never
// does, it is dropped when the transaction ends.
func (db *DB) CreateObject(table string) (*DynamicObject, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	tx := db.wtx
	if tx == nil {
		return nil, ErrNotInWriteTransaction
	}
	tbl, err := db.table(table)
	if err != nil {
		return nil, err
	}
	key, err := tx.w.newKey(tbl)
	if err != nil {
		return nil, db.fail("new key", err)
	}
	d := db.dynamicObject(tbl, key)
	row := tbl.newRowData()
	if tbl.primary != nil {
		d.pending = row
		tx.fresh = append(tx.fresh, &d.Object)
		return d, nil
	}
	if _, err := tx.w.putRow(tbl, key, row, false); err != nil {
		return nil, db.fail("put", err)
	}
	return d, nil
}

// DynamicCreate creates an object from property values, setting the
// primary key first.
func (db *DB) DynamicCreate(table string, values map[string]cell.Value) (*DynamicObject, error) {
	d, err := db.CreateObject(table)
	if err != nil {
		return nil, err
	}
	tbl := d.table
	if pk := tbl.primary; pk != nil {
		v, ok := values[pk.Name]
		if !ok {
			v = pk.defaultColumn().v
		}
		if err := d.SetValueUnique(pk.Name, v); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(values) {
		prop, err := tbl.prop(name)
		if err != nil {
			return nil, err
		}
		if prop.Primary {
			continue
		}
		if err := d.Set(name, values[name]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Remove deletes a managed object. Links to it become null and it is
// removed from lists, sets and dictionaries that referenced it.
func (db *DB) Remove(m Model) error {
	if err := db.check(); err != nil {
		return err
	}
	tx := db.wtx
	if tx == nil {
		return ErrNotInWriteTransaction
	}
	if isNilModel(m) {
		return fmt.Errorf("%w: nil object", ErrInvalidatedObject)
	}
	o := m.objectBase()
	switch {
	case o.db == nil:
		return fmt.Errorf("%w: %v is not managed", ErrInvalidatedObject, o)
	case o.db != db:
		return ErrObjectManagedByOtherInstance
	case o.frozen != nil:
		return fmt.Errorf("%w: %v is a read-only view", ErrReadOnly, o)
	case o.pending != nil:
		o.pending = nil
		return nil
	}
	found, err := tx.w.deleteRow(o.table, o.key)
	if err != nil {
		return db.fail("delete", err)
	}
	if !found {
		return o.invalidated()
	}
	return nil
}

// RemoveAll deletes every object of T's table.
func RemoveAll[T Model](db *DB) error {
	var zero T
	tbl, err := db.tableFor(zero)
	if err != nil {
		return err
	}
	return db.removeAll(tbl)
}

// DynamicRemoveAll deletes every object of the named table.
func (db *DB) DynamicRemoveAll(table string) error {
	tbl, err := db.table(table)
	if err != nil {
		return err
	}
	return db.removeAll(tbl)
}

func (db *DB) removeAll(tbl *Table) error {
	if err := db.check(); err != nil {
		return err
	}
	tx := db.wtx
	if tx == nil {
		return ErrNotInWriteTransaction
	}
	return db.fail("delete", tx.w.deleteAll(tbl))
}
