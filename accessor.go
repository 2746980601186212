package objdb

import (
	"fmt"
	"reflect"

	"github.com/andreyvit/objdb/cell"
)

// Get is the getter of a generated accessor: it returns the field while the
// model is unmanaged and the stored value once it is managed. It panics
// with the objdb error if the stored value cannot be read.
//
//	func (p *Person) Name() string { return objdb.Get(p, "name", &p.name) }
func Get[V any](m Model, name string, field *V) V {
	return must(TryGet(m, name, field))
}

func TryGet[V any](m Model, name string, field *V) (V, error) {
	o := ObjectOf(m)
	if o.db == nil {
		return *field, nil
	}
	v, err := o.GetValue(name)
	if err != nil {
		var zero V
		return zero, err
	}
	out, err := fromCell[V](o.db, v)
	if err != nil {
		return out, propErr(o.table, name, err)
	}
	return out, nil
}

// Set is the setter of a generated accessor. Setting a property of a
// managed object outside a write transaction panics with
// ErrNotInWriteTransaction.
//
//	func (p *Person) SetName(v string) { objdb.Set(p, "name", &p.name, v) }
func Set[V any](m Model, name string, field *V, val V) {
	ensure(TrySet(m, name, field, val))
}

func TrySet[V any](m Model, name string, field *V, val V) error {
	o := ObjectOf(m)
	if o.db == nil {
		*field = val
		o.firePropertyChanged(name)
		return nil
	}
	c, err := toCell(o.db, val)
	if err != nil {
		return propErr(o.table, name, err)
	}
	return o.SetValue(name, c)
}

// toCell converts a Go value into a cell; models become links and must be
// managed by db.
func toCell(db *DB, val any) (cell.Value, error) {
	if m, ok := val.(Model); ok {
		return linkCell(db, m)
	}
	return cell.Of(val)
}

// fromCell converts a stored cell into V. Links become fresh accessors of
// the linked type, or *DynamicObject when V asks for one.
func fromCell[V any](db *DB, v cell.Value) (V, error) {
	var zero V
	switch any(zero).(type) {
	case *DynamicObject:
		if v.IsNull() {
			return zero, nil
		}
		tbl, key, err := linkTarget(db, v)
		if err != nil {
			return zero, err
		}
		return any(db.dynamicObject(tbl, key)).(V), nil
	case Model:
		if v.IsNull() {
			return zero, nil
		}
		tbl, key, err := linkTarget(db, v)
		if err != nil {
			return zero, err
		}
		obj, ok := db.objectFor(tbl, key).(V)
		if !ok {
			return zero, fmt.Errorf("%w: %s objects are not %T", ErrTypeMismatch, tbl.name, zero)
		}
		return obj, nil
	}
	return cell.To[V](v)
}

func linkTarget(db *DB, v cell.Value) (*Table, ObjKey, error) {
	l, err := v.AsLink()
	if err != nil {
		return nil, 0, err
	}
	tbl, err := db.table(l.Table)
	if err != nil {
		return nil, 0, err
	}
	return tbl, ObjKey(l.Key), nil
}

// checkElemType verifies that Go type E can hold the elements of prop.
func checkElemType[E any](prop *Property) error {
	et := reflect.TypeFor[E]()
	ok := true
	switch {
	case et == cellValueType:
	case prop.IsLink():
		ok = holdsObjectsOf(et, prop.target)
	default:
		kind, _, known := cell.KindOf(et)
		ok = known && kind == prop.Kind
	}
	if !ok {
		return propErr(prop.table, prop.Name, fmt.Errorf("%w: %v cannot hold %s", ErrTypeMismatch, et, prop.TypeString()))
	}
	return nil
}

// holdsObjectsOf reports whether objects of tbl can be returned as et.
func holdsObjectsOf(et reflect.Type, tbl *Table) bool {
	if et == dynamicObjectPtrType {
		return true
	}
	target := modelTarget(et)
	return target != nil && tbl != nil && (tbl.rowType == nil || tbl.rowType == target)
}

// collectionProp resolves a collection property of the given kind.
func (o *Object) collectionProp(name string, coll CollectionKind) (*Property, error) {
	tbl, err := o.boundTable()
	if err != nil {
		return nil, err
	}
	prop, err := tbl.prop(name)
	if err != nil {
		return nil, err
	}
	if prop.IsBacklink() || prop.Coll != coll {
		return nil, propErr(tbl, name, fmt.Errorf("%w: %s is not a %s", ErrTypeMismatch, prop.TypeString(), coll))
	}
	return prop, nil
}

// readColumn returns the stored contents of a managed collection property.
func (o *Object) readColumn(name string, coll CollectionKind) (*Property, column, error) {
	prop, err := o.collectionProp(name, coll)
	if err != nil {
		return nil, column{}, err
	}
	row, err := o.loadRow()
	if err != nil {
		return nil, column{}, err
	}
	return prop, row.cols[prop.col], nil
}

// mutateColumn applies f to a managed collection property and writes the
// row back; listeners run if the stored contents changed.
func (o *Object) mutateColumn(name string, coll CollectionKind, f func(prop *Property, c *column) error) error {
	prop, err := o.collectionProp(name, coll)
	if err != nil {
		return err
	}
	if o.pending != nil {
		return propErr(o.table, name, ErrPrimaryKeyOrder)
	}
	tx, err := o.beginMutation()
	if err != nil {
		return err
	}
	row, err := o.loadRow()
	if err != nil {
		return err
	}
	if err := f(prop, &row.cols[prop.col]); err != nil {
		return err
	}
	changed, err := o.storeRow(tx, row)
	if err != nil {
		return err
	}
	if changed {
		o.firePropertyChanged(name)
	}
	return nil
}

// elemCell converts a collection element for storage in prop.
func elemCell[E any](o *Object, prop *Property, v E) (cell.Value, error) {
	c, err := toCell(o.db, v)
	if err != nil {
		return c, propErr(o.table, prop.Name, err)
	}
	return o.checkCell(prop, c)
}

// localCells converts the elements of an unmanaged collection when its
// owner is added to db.
func localCells[E any](db *DB, prop *Property, items []E) ([]cell.Value, error) {
	out := make([]cell.Value, 0, len(items))
	for _, e := range items {
		c, err := toCell(db, e)
		if err != nil {
			return nil, propErr(prop.table, prop.Name, err)
		}
		c, err = prop.checkValue(c)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// localEqual compares elements of unmanaged collections: objects by
// identity, everything else by value.
func localEqual[E any](a, b E) bool {
	if am, ok := any(a).(Model); ok {
		bm := any(b).(Model)
		an, bn := isNilModel(am), isNilModel(bm)
		if an || bn {
			return an && bn
		}
		return sameObject(am.objectBase(), bm.objectBase())
	}
	ac, err1 := cell.Of(any(a))
	bc, err2 := cell.Of(any(b))
	return err1 == nil && err2 == nil && cell.Equal(ac, bc)
}

func sameObject(a, b *Object) bool {
	if a == b {
		return true
	}
	return a.db != nil && a.db == b.db && a.table == b.table && a.key == b.key
}

func indexErr(o *Object, name string, i, n int) error {
	return propErr(o.table, name, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, n))
}
