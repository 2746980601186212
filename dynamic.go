package objdb

import (
	"github.com/andreyvit/objdb/cell"
)

// DynamicObject is an object accessed by property name, without a model
// type. Instances opened with OpenDynamic hand these out for every table,
// and migrations use them for the old and new views of each row.
type DynamicObject struct {
	Object
}

// Get returns a scalar or link property. Links come back as cell.Link
// values; use Link to follow them.
func (d *DynamicObject) Get(name string) (cell.Value, error) {
	return d.GetValue(name)
}

func (d *DynamicObject) Set(name string, v cell.Value) error {
	return d.SetValue(name, v)
}

// Link follows a link property. It returns nil for a null link.
func (d *DynamicObject) Link(name string) (*DynamicObject, error) {
	v, err := d.GetValue(name)
	if err != nil || v.IsNull() {
		return nil, err
	}
	tbl, key, err := linkTarget(d.db, v)
	if err != nil {
		return nil, propErr(d.table, name, err)
	}
	return d.db.dynamicObject(tbl, key), nil
}

// SetLink points a link property at target, or clears it if target is nil.
func (d *DynamicObject) SetLink(name string, target Model) error {
	if isNilModel(target) {
		return d.SetValue(name, cell.Null)
	}
	c, err := linkCell(d.db, target)
	if err != nil {
		return propErr(d.table, name, err)
	}
	return d.SetValue(name, c)
}

// Properties lists the table's properties, including backlinks.
func (d *DynamicObject) Properties() []*Property {
	if d.table == nil {
		return nil
	}
	return d.table.Properties()
}

func (d *DynamicObject) ListOf(name string) (*List[cell.Value], error) {
	return GetList[cell.Value](&d.Object, name)
}

func (d *DynamicObject) SetOf(name string) (*Set[cell.Value], error) {
	return GetSet[cell.Value](&d.Object, name)
}

func (d *DynamicObject) DictionaryOf(name string) (*Dictionary[cell.Value], error) {
	return GetDictionary[cell.Value](&d.Object, name)
}

// BacklinksOf lists the objects linking to d through the backlink property
// name.
func (d *DynamicObject) BacklinksOf(name string) (*Results[*DynamicObject], error) {
	return GetBacklinks[*DynamicObject](&d.Object, name)
}

// Values returns every scalar and link property by name.
func (d *DynamicObject) Values() (map[string]cell.Value, error) {
	row, err := d.loadRow()
	if err != nil {
		return nil, err
	}
	out := make(map[string]cell.Value)
	for _, prop := range d.table.columns {
		if prop.Coll == CollNone {
			out[prop.Name] = row.cols[prop.col].v
		}
	}
	return out, nil
}
