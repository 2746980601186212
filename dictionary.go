package objdb

import (
	"iter"
	"maps"
	"slices"

	"github.com/andreyvit/objdb/cell"
	"github.com/andreyvit/objdb/changeset"
)

// Dictionary maps string keys to values. Iteration is in key order.
type Dictionary[V any] struct {
	owner *Object
	name  string
	local map[string]V
	h     *handle
}

func DictionaryProperty[V any](m Model, name string, field **Dictionary[V]) *Dictionary[V] {
	if *field == nil {
		*field = &Dictionary[V]{owner: ObjectOf(m), name: name}
	}
	return *field
}

func GetDictionary[V any](o *Object, name string) (*Dictionary[V], error) {
	prop, err := o.collectionProp(name, CollDictionary)
	if err != nil {
		return nil, err
	}
	if err := checkElemType[V](prop); err != nil {
		return nil, err
	}
	return &Dictionary[V]{owner: o, name: name}, nil
}

func (d *Dictionary[V]) managed() bool {
	return d.owner.db != nil
}

func (d *Dictionary[V]) handle() *handle {
	if d.h == nil || !d.h.IsValid() {
		d.h = rootHandle(d.owner.db.handles, d, HandleCollection, d.owner.db.tableRoot(d.owner.table))
	}
	return d.h
}

func (d *Dictionary[V]) IsValid() bool {
	if !d.managed() {
		return true
	}
	return d.owner.IsValid() && d.handle().IsValid()
}

func (d *Dictionary[V]) cells() map[string]cell.Value {
	d.handle()
	_, c, err := d.owner.readColumn(d.name, CollDictionary)
	ensure(err)
	return c.dict
}

func (d *Dictionary[V]) Len() int {
	if !d.managed() {
		return len(d.local)
	}
	return len(d.cells())
}

func (d *Dictionary[V]) Get(key string) (V, bool) {
	if !d.managed() {
		v, ok := d.local[key]
		return v, ok
	}
	c, ok := d.cells()[key]
	if !ok {
		var zero V
		return zero, false
	}
	return must(fromCell[V](d.owner.db, c)), true
}

func (d *Dictionary[V]) ContainsKey(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns the keys in sorted order.
func (d *Dictionary[V]) Keys() []string {
	if !d.managed() {
		return slices.Sorted(maps.Keys(d.local))
	}
	return sortedKeys(d.cells())
}

func (d *Dictionary[V]) All() iter.Seq2[string, V] {
	if !d.managed() {
		local := maps.Clone(d.local)
		return func(yield func(string, V) bool) {
			for _, k := range slices.Sorted(maps.Keys(local)) {
				if !yield(k, local[k]) {
					return
				}
			}
		}
	}
	m := d.cells()
	db := d.owner.db
	return func(yield func(string, V) bool) {
		for _, k := range sortedKeys(m) {
			if !yield(k, must(fromCell[V](db, m[k]))) {
				return
			}
		}
	}
}

func (d *Dictionary[V]) edit(f func(prop *Property, m map[string]cell.Value) error) {
	d.handle()
	ensure(d.owner.mutateColumn(d.name, CollDictionary, func(prop *Property, c *column) error {
		if c.dict == nil {
			c.dict = make(map[string]cell.Value)
		}
		return f(prop, c.dict)
	}))
}

// Set stores v under key, replacing any previous value.
func (d *Dictionary[V]) Set(key string, v V) {
	if !d.managed() {
		if d.local == nil {
			d.local = make(map[string]V)
		}
		d.local[key] = v
		d.owner.firePropertyChanged(d.name)
		return
	}
	d.edit(func(prop *Property, m map[string]cell.Value) error {
		c, err := elemCell(d.owner, prop, v)
		if err != nil {
			return err
		}
		m[key] = c
		return nil
	})
}

// Remove deletes key and reports whether it was present.
func (d *Dictionary[V]) Remove(key string) bool {
	if !d.managed() {
		_, ok := d.local[key]
		delete(d.local, key)
		if ok {
			d.owner.firePropertyChanged(d.name)
		}
		return ok
	}
	var ok bool
	d.edit(func(prop *Property, m map[string]cell.Value) error {
		_, ok = m[key]
		delete(m, key)
		return nil
	})
	return ok
}

func (d *Dictionary[V]) Clear() {
	if !d.managed() {
		clear(d.local)
		d.owner.firePropertyChanged(d.name)
		return
	}
	d.edit(func(prop *Property, m map[string]cell.Value) error {
		clear(m)
		return nil
	})
}

func (d *Dictionary[V]) localColumn(db *DB, prop *Property) (column, error) {
	out := make(map[string]cell.Value, len(d.local))
	for k, v := range d.local {
		cs, err := localCells(db, prop, []V{v})
		if err != nil {
			return column{}, err
		}
		out[k] = cs[0]
	}
	return column{dict: out}, nil
}

// Observe subscribes to changes of the dictionary, reported by key.
func (d *Dictionary[V]) Observe(fn func(cs *changeset.DictionaryChangeSet, err error)) (*Token, error) {
	if !d.managed() {
		return nil, errUnmanagedObserve(d.owner)
	}
	d.handle()
	return observeDict(d.owner, d.name, fn)
}
