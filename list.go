package objdb

import (
	"iter"
	"slices"

	"github.com/andreyvit/objdb/cell"
	"github.com/andreyvit/objdb/changeset"
)

// List is an ordered collection property. Before its owner is managed the
// elements live in memory; afterwards every call reads or writes storage.
// Methods panic with objdb errors, like the generated accessors do.
type List[E any] struct {
	owner *Object
	name  string
	local []E
	h     *handle
}

// ListProperty is the getter of a generated list accessor. The list is
// created on first access and cached in the backing field.
func ListProperty[E any](m Model, name string, field **List[E]) *List[E] {
	if *field == nil {
		*field = &List[E]{owner: ObjectOf(m), name: name}
	}
	return *field
}

// GetList returns the list property name of a managed or unmanaged object.
func GetList[E any](o *Object, name string) (*List[E], error) {
	prop, err := o.collectionProp(name, CollList)
	if err != nil {
		return nil, err
	}
	if err := checkElemType[E](prop); err != nil {
		return nil, err
	}
	return &List[E]{owner: o, name: name}, nil
}

func (l *List[E]) managed() bool {
	return l.owner.db != nil
}

func (l *List[E]) handle() *handle {
	if l.h == nil || !l.h.IsValid() {
		l.h = rootHandle(l.owner.db.handles, l, HandleCollection, l.owner.db.tableRoot(l.owner.table))
	}
	return l.h
}

// IsValid reports whether the owner is usable.
func (l *List[E]) IsValid() bool {
	if !l.managed() {
		return true
	}
	return l.owner.IsValid() && l.handle().IsValid()
}

func (l *List[E]) cells() (*Property, []cell.Value, error) {
	l.handle()
	prop, c, err := l.owner.readColumn(l.name, CollList)
	return prop, c.items, err
}

func (l *List[E]) Len() int {
	if !l.managed() {
		return len(l.local)
	}
	_, items, err := l.cells()
	ensure(err)
	return len(items)
}

func (l *List[E]) At(i int) E {
	if !l.managed() {
		if i < 0 || i >= len(l.local) {
			panic(indexErr(l.owner, l.name, i, len(l.local)))
		}
		return l.local[i]
	}
	_, items, err := l.cells()
	ensure(err)
	if i < 0 || i >= len(items) {
		panic(indexErr(l.owner, l.name, i, len(items)))
	}
	return must(fromCell[E](l.owner.db, items[i]))
}

// Items returns a copy of the elements.
func (l *List[E]) Items() []E {
	if !l.managed() {
		return slices.Clone(l.local)
	}
	_, items, err := l.cells()
	ensure(err)
	out := make([]E, len(items))
	for i, v := range items {
		out[i] = must(fromCell[E](l.owner.db, v))
	}
	return out
}

func (l *List[E]) All() iter.Seq2[int, E] {
	return slices.All(l.Items())
}

func (l *List[E]) IndexOf(v E) int {
	if !l.managed() {
		return slices.IndexFunc(l.local, func(e E) bool { return localEqual(e, v) })
	}
	_, items, err := l.cells()
	ensure(err)
	c, err := toCell(l.owner.db, v)
	if err != nil {
		return -1
	}
	return slices.IndexFunc(items, func(e cell.Value) bool { return cell.Equal(e, c) })
}

func (l *List[E]) Contains(v E) bool {
	return l.IndexOf(v) >= 0
}

func (l *List[E]) edit(f func(prop *Property, items []cell.Value) ([]cell.Value, error)) {
	l.handle()
	ensure(l.owner.mutateColumn(l.name, CollList, func(prop *Property, c *column) error {
		items, err := f(prop, c.items)
		c.items = items
		return err
	}))
}

func (l *List[E]) localChanged() {
	l.owner.firePropertyChanged(l.name)
}

func (l *List[E]) Append(vs ...E) {
	if !l.managed() {
		l.local = append(l.local, vs...)
		l.localChanged()
		return
	}
	l.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		for _, v := range vs {
			c, err := elemCell(l.owner, prop, v)
			if err != nil {
				return items, err
			}
			items = append(items, c)
		}
		return items, nil
	})
}

func (l *List[E]) Insert(i int, v E) {
	if !l.managed() {
		if i < 0 || i > len(l.local) {
			panic(indexErr(l.owner, l.name, i, len(l.local)+1))
		}
		l.local = slices.Insert(l.local, i, v)
		l.localChanged()
		return
	}
	l.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		if i < 0 || i > len(items) {
			return items, indexErr(l.owner, l.name, i, len(items)+1)
		}
		c, err := elemCell(l.owner, prop, v)
		if err != nil {
			return items, err
		}
		return slices.Insert(items, i, c), nil
	})
}

func (l *List[E]) Set(i int, v E) {
	if !l.managed() {
		if i < 0 || i >= len(l.local) {
			panic(indexErr(l.owner, l.name, i, len(l.local)))
		}
		l.local[i] = v
		l.localChanged()
		return
	}
	l.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		if i < 0 || i >= len(items) {
			return items, indexErr(l.owner, l.name, i, len(items))
		}
		c, err := elemCell(l.owner, prop, v)
		if err != nil {
			return items, err
		}
		items[i] = c
		return items, nil
	})
}

func (l *List[E]) RemoveAt(i int) {
	if !l.managed() {
		if i < 0 || i >= len(l.local) {
			panic(indexErr(l.owner, l.name, i, len(l.local)))
		}
		l.local = slices.Delete(l.local, i, i+1)
		l.localChanged()
		return
	}
	l.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		if i < 0 || i >= len(items) {
			return items, indexErr(l.owner, l.name, i, len(items))
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// Remove deletes the first element equal to v and reports whether there
// was one.
func (l *List[E]) Remove(v E) bool {
	i := l.IndexOf(v)
	if i < 0 {
		return false
	}
	l.RemoveAt(i)
	return true
}

// Move relocates the element at from so that it ends up at index to.
func (l *List[E]) Move(from, to int) {
	move := func(n int) error {
		if from < 0 || from >= n {
			return indexErr(l.owner, l.name, from, n)
		}
		if to < 0 || to >= n {
			return indexErr(l.owner, l.name, to, n)
		}
		return nil
	}
	if !l.managed() {
		ensure(move(len(l.local)))
		e := l.local[from]
		l.local = slices.Insert(slices.Delete(l.local, from, from+1), to, e)
		l.localChanged()
		return
	}
	l.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		if err := move(len(items)); err != nil {
			return items, err
		}
		e := items[from]
		return slices.Insert(slices.Delete(items, from, from+1), to, e), nil
	})
}

func (l *List[E]) Clear() {
	if !l.managed() {
		l.local = nil
		l.localChanged()
		return
	}
	l.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		return nil, nil
	})
}

func (l *List[E]) localColumn(db *DB, prop *Property) (column, error) {
	items, err := localCells(db, prop, l.local)
	return column{items: items}, err
}

// Observe subscribes to changes of the list. Change sets index into the
// list; an element whose linked object changed is reported as modified.
func (l *List[E]) Observe(fn func(cs *changeset.ChangeSet, err error)) (*Token, error) {
	if !l.managed() {
		return nil, errUnmanagedObserve(l.owner)
	}
	l.handle()
	return observeSeq(l.owner, l.name, CollList, fn)
}
