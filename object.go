package objdb

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/andreyvit/objdb/cell"
)

// Model is implemented by every persisted type through the embedded Object.
type Model interface {
	objectBase() *Object
}

// Object is embedded by value into model structs. While unmanaged, a model
// keeps its property values in its own fields; once added to an instance,
// every accessor goes through the instance's storage instead.
type Object struct {
	db    *DB
	table *Table
	key   ObjKey
	self  Model

	rowHandle *RowHandle

	// pending holds the initial contents of an object created in the
	// current transaction that has not received its primary key yet.
	pending *rowData

	// frozen is a detached copy used by migrations for the pre-upgrade
	// view of a row.
	frozen *rowData

	listeners    []propertyListener
	nextListener int
}

type propertyListener struct {
	id int
	fn func(name string)
}

func (o *Object) objectBase() *Object { return o }

// ObjectOf returns the Object embedded into m, bound to m's model table.
func ObjectOf(m Model) *Object {
	o := m.objectBase()
	if o.self == nil {
		o.self = m
	}
	if o.table == nil {
		o.table = modelTable(m)
	}
	return o
}

func (o *Object) attach(db *DB, tbl *Table, key ObjKey, self Model) {
	o.db = db
	o.table = tbl
	o.key = key
	o.self = self
}

// detach turns a managed object back into an unmanaged one; its fields
// still hold the values they had before it was added.
func (o *Object) detach() {
	o.db = nil
	o.key = 0
	o.pending = nil
	if o.rowHandle != nil {
		o.rowHandle.Release()
		o.rowHandle = nil
	}
}

func (o *Object) dropPending() {
	o.pending = nil
}

func (o *Object) IsManaged() bool {
	return o.db != nil
}

// IsValid reports whether the object can be used: unmanaged objects always
// can, managed ones as long as their row exists and the instance is open.
func (o *Object) IsValid() bool {
	if o.db == nil || o.frozen != nil {
		return true
	}
	if o.db.check() != nil {
		return false
	}
	if o.pending != nil {
		return o.db.wtx != nil
	}
	var ok bool
	err := o.db.withReader(func(r reader) error {
		var err error
		ok, err = r.exists(o.table, o.key)
		return err
	})
	return err == nil && ok
}

func (o *Object) DB() *DB       { return o.db }
func (o *Object) Key() ObjKey   { return o.key }
func (o *Object) Table() *Table { return o.table }

func (o *Object) String() string {
	if o.table == nil {
		return "<unbound object>"
	}
	if o.db == nil {
		return o.table.name + "/unmanaged"
	}
	return fmt.Sprintf("%s/%d", o.table.name, o.key)
}

// Handle returns the row handle of a managed object.
func (o *Object) Handle() (*RowHandle, error) {
	if err := o.checkManaged(); err != nil {
		return nil, err
	}
	if o.rowHandle == nil || !o.rowHandle.h.IsValid() {
		rh := &RowHandle{obj: o}
		rh.h = rootHandle(o.db.handles, rh, HandleRow, o.db.tableRoot(o.table))
		o.rowHandle = rh
	}
	return o.rowHandle, nil
}

func (o *Object) checkManaged() error {
	if o.db == nil {
		return fmt.Errorf("%w: %v is not managed", ErrInvalidatedObject, o)
	}
	return o.db.check()
}

func (o *Object) boundTable() (*Table, error) {
	if o.table == nil {
		if o.self == nil {
			return nil, ErrUnknownType
		}
		o.table = modelTable(o.self)
		if o.table == nil {
			return nil, fmt.Errorf("%T: %w", o.self, ErrUnknownType)
		}
	}
	return o.table, nil
}

func (o *Object) invalidated() error {
	return fmt.Errorf("%s/%d: %w", o.table.name, o.key, ErrInvalidatedObject)
}

// loadRow returns the current contents of a managed object's row. The
// result may be modified and written back.
func (o *Object) loadRow() (*rowData, error) {
	if o.frozen != nil {
		return o.frozen.clone(), nil
	}
	if err := o.db.check(); err != nil {
		return nil, err
	}
	if o.pending != nil {
		if o.db.wtx == nil {
			return nil, o.invalidated()
		}
		return o.pending.clone(), nil
	}
	var row *rowData
	err := o.db.withReader(func(r reader) error {
		var found bool
		var err error
		row, _, found, err = r.getRow(o.table, o.key)
		if err == nil && !found {
			return o.invalidated()
		}
		return err
	})
	return row, err
}

// beginMutation checks that a managed object can be modified right now.
func (o *Object) beginMutation() (*Tx, error) {
	if o.frozen != nil {
		return nil, fmt.Errorf("%w: %v is a read-only view", ErrReadOnly, o)
	}
	if err := o.db.check(); err != nil {
		return nil, err
	}
	tx := o.db.wtx
	if tx == nil {
		return nil, ErrNotInWriteTransaction
	}
	return tx, nil
}

// storeRow writes a modified row back and reports whether it changed.
func (o *Object) storeRow(tx *Tx, row *rowData) (bool, error) {
	changed, err := tx.w.putRow(o.table, o.key, row, false)
	if err != nil {
		return false, o.db.fail("put", err)
	}
	return changed, nil
}

// GetValue reads a scalar or link property as a cell. Links are returned as
// cell.Link values.
func (o *Object) GetValue(name string) (cell.Value, error) {
	tbl, err := o.boundTable()
	if err != nil {
		return cell.Null, err
	}
	prop, err := tbl.prop(name)
	if err != nil {
		return cell.Null, err
	}
	if prop.IsBacklink() || prop.Coll != CollNone {
		return cell.Null, propErr(tbl, name, fmt.Errorf("%w: %s is not a scalar property", ErrTypeMismatch, prop.TypeString()))
	}
	if o.db == nil {
		return o.fieldCell(prop)
	}
	row, err := o.loadRow()
	if err != nil {
		return cell.Null, err
	}
	return row.cols[prop.col].v, nil
}

func (o *Object) fieldCell(prop *Property) (cell.Value, error) {
	if prop.binding == nil {
		return prop.defaultColumn().v, nil
	}
	fv := prop.binding.field(o.self)
	if prop.IsLink() {
		if fv.IsNil() {
			return cell.Null, nil
		}
		target := fv.Interface().(Model).objectBase()
		if target.db == nil {
			return cell.Null, propErr(o.table, prop.Name, ErrUnmanagedLink)
		}
		return cell.LinkValue(target.table.name, uint64(target.key)), nil
	}
	v, err := cell.Of(fv.Interface())
	if err != nil {
		return cell.Null, propErr(o.table, prop.Name, err)
	}
	return v, nil
}

// SetValue writes a scalar or link property. On a managed object it needs
// a write transaction; local property listeners run before it returns.
func (o *Object) SetValue(name string, v cell.Value) error {
	tbl, err := o.boundTable()
	if err != nil {
		return err
	}
	prop, err := tbl.prop(name)
	if err != nil {
		return err
	}
	if prop.IsBacklink() {
		return propErr(tbl, name, fmt.Errorf("%w: backlinks are read-only", ErrReadOnly))
	}
	if prop.Coll != CollNone {
		return propErr(tbl, name, fmt.Errorf("%w: %s is not a scalar property", ErrTypeMismatch, prop.TypeString()))
	}
	if o.db == nil {
		if err := o.setField(prop, v); err != nil {
			return err
		}
		o.firePropertyChanged(name)
		return nil
	}
	if prop.Primary {
		if o.pending != nil {
			return o.SetValueUnique(name, v)
		}
		return propErr(tbl, name, ErrPrimaryKeyAlreadySet)
	}
	if o.pending != nil {
		return propErr(tbl, name, ErrPrimaryKeyOrder)
	}
	tx, err := o.beginMutation()
	if err != nil {
		return err
	}
	v, err = o.checkCell(prop, v)
	if err != nil {
		return err
	}
	row, err := o.loadRow()
	if err != nil {
		return err
	}
	if cell.Equal(row.cols[prop.col].v, v) {
		return nil
	}
	row.cols[prop.col].v = v
	if _, err := o.storeRow(tx, row); err != nil {
		return err
	}
	o.firePropertyChanged(name)
	return nil
}

// SetValueUnique sets the primary key of an object created in the current
// transaction. It must be the first mutation of the object, and fails if
// another object already has the same key.
func (o *Object) SetValueUnique(name string, v cell.Value) error {
	tbl, err := o.boundTable()
	if err != nil {
		return err
	}
	prop, err := tbl.prop(name)
	if err != nil {
		return err
	}
	if !prop.Primary {
		return propErr(tbl, name, fmt.Errorf("%w: not the primary key", ErrPrimaryKeyOrder))
	}
	if o.db == nil {
		return o.SetValue(name, v)
	}
	if o.pending == nil {
		return propErr(tbl, name, ErrPrimaryKeyAlreadySet)
	}
	tx, err := o.beginMutation()
	if err != nil {
		return err
	}
	v, err = prop.checkValue(v)
	if err != nil {
		return err
	}
	_, found, err := tx.w.lookupPrimary(tbl, v)
	if err != nil {
		return o.db.fail("lookup", err)
	}
	if found {
		return propErr(tbl, name, fmt.Errorf("%w: %v", ErrDuplicatePrimaryKey, v))
	}
	row := o.pending
	row.cols[prop.col].v = v
	if _, err := o.storeRow(tx, row); err != nil {
		return err
	}
	o.pending = nil
	o.firePropertyChanged(name)
	return nil
}

// checkCell validates a value for prop, including that a link points at an
// existing object of the right table.
func (o *Object) checkCell(prop *Property, v cell.Value) (cell.Value, error) {
	v, err := prop.checkValue(v)
	if err != nil {
		return v, err
	}
	if prop.IsLink() && !v.IsNull() {
		l, _ := v.AsLink()
		var ok bool
		err := o.db.withReader(func(r reader) error {
			var err error
			ok, err = r.exists(prop.target, ObjKey(l.Key))
			return err
		})
		if err != nil {
			return v, err
		}
		if !ok {
			return v, propErr(o.table, prop.Name, fmt.Errorf("%w: link target %v", ErrInvalidatedObject, l))
		}
	}
	return v, nil
}

func (o *Object) setField(prop *Property, v cell.Value) error {
	if prop.binding == nil {
		return propErr(o.table, prop.Name, ErrUnknownProperty)
	}
	fv := prop.binding.field(o.self)
	if prop.IsLink() {
		if !v.IsNull() {
			return propErr(o.table, prop.Name, fmt.Errorf("%w: assign the object itself to link properties of unmanaged objects", ErrUnmanagedLink))
		}
		fv.SetZero()
		return nil
	}
	if err := cell.Assign(fv.Addr().Interface(), v); err != nil {
		return propErr(o.table, prop.Name, err)
	}
	return nil
}

// OnPropertyChanged registers fn to be called after a property of this
// object is set through this accessor.
func (o *Object) OnPropertyChanged(fn func(name string)) (cancel func()) {
	o.nextListener++
	id := o.nextListener
	o.listeners = append(o.listeners, propertyListener{id, fn})
	return func() {
		o.listeners = slices.DeleteFunc(o.listeners, func(l propertyListener) bool {
			return l.id == id
		})
	}
}

func (o *Object) firePropertyChanged(name string) {
	for _, l := range slices.Clone(o.listeners) {
		l.fn(name)
	}
}

// localRow collects the field values of an unmanaged model into a row.
func (o *Object) localRow(db *DB, tbl *Table) (*rowData, error) {
	row := tbl.newRowData()
	for _, prop := range tbl.columns {
		if prop.binding == nil {
			continue
		}
		fv := prop.binding.field(o.self)
		if prop.Coll != CollNone {
			if fv.IsNil() {
				continue
			}
			lc, ok := fv.Interface().(localCollection)
			if !ok {
				return nil, propErr(tbl, prop.Name, ErrTypeMismatch)
			}
			c, err := lc.localColumn(db, prop)
			if err != nil {
				return nil, err
			}
			row.cols[prop.col] = c
			continue
		}
		var v cell.Value
		if prop.IsLink() {
			if !fv.IsNil() {
				var err error
				v, err = linkCell(db, fv.Interface().(Model))
				if err != nil {
					return nil, propErr(tbl, prop.Name, err)
				}
			}
		} else {
			var err error
			v, err = cell.Of(fv.Interface())
			if err != nil {
				return nil, propErr(tbl, prop.Name, err)
			}
		}
		v, err := prop.checkValue(v)
		if err != nil {
			return nil, err
		}
		row.cols[prop.col].v = v
	}
	return row, nil
}

// localCollection is implemented by collections that can hold elements
// before their owner is managed.
type localCollection interface {
	localColumn(db *DB, prop *Property) (column, error)
}

// linkCell converts a model into a link cell. The target must already be
// managed by db.
func linkCell(db *DB, m Model) (cell.Value, error) {
	if isNilModel(m) {
		return cell.Null, nil
	}
	t := m.objectBase()
	switch {
	case t.db == nil:
		return cell.Null, ErrUnmanagedLink
	case t.db != db:
		return cell.Null, ErrObjectManagedByOtherInstance
	}
	return cell.LinkValue(t.table.name, uint64(t.key)), nil
}

func isNilModel(m Model) bool {
	if m == nil {
		return true
	}
	rv := reflect.ValueOf(m)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
