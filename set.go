package objdb

import (
	"iter"
	"slices"

	"github.com/andreyvit/objdb/cell"
	"github.com/andreyvit/objdb/changeset"
)

// Set is an unordered collection of distinct values. Managed sets are
// stored sorted by value, which is also their iteration order; unmanaged
// sets keep insertion order.
type Set[E any] struct {
	owner *Object
	name  string
	local []E
	h     *handle
}

func SetProperty[E any](m Model, name string, field **Set[E]) *Set[E] {
	if *field == nil {
		*field = &Set[E]{owner: ObjectOf(m), name: name}
	}
	return *field
}

func GetSet[E any](o *Object, name string) (*Set[E], error) {
	prop, err := o.collectionProp(name, CollSet)
	if err != nil {
		return nil, err
	}
	if err := checkElemType[E](prop); err != nil {
		return nil, err
	}
	return &Set[E]{owner: o, name: name}, nil
}

// setInsert adds v to a sorted set of cells unless it is already there.
func setInsert(items []cell.Value, v cell.Value) []cell.Value {
	i, found := slices.BinarySearchFunc(items, v, cell.Compare)
	if found {
		return items
	}
	return slices.Insert(items, i, v)
}

func setRemove(items []cell.Value, v cell.Value) ([]cell.Value, bool) {
	i, found := slices.BinarySearchFunc(items, v, cell.Compare)
	if !found {
		return items, false
	}
	return slices.Delete(items, i, i+1), true
}

func setContains(items []cell.Value, v cell.Value) bool {
	_, found := slices.BinarySearchFunc(items, v, cell.Compare)
	return found
}

func (s *Set[E]) managed() bool {
	return s.owner.db != nil
}

func (s *Set[E]) handle() *handle {
	if s.h == nil || !s.h.IsValid() {
		s.h = rootHandle(s.owner.db.handles, s, HandleCollection, s.owner.db.tableRoot(s.owner.table))
	}
	return s.h
}

func (s *Set[E]) IsValid() bool {
	if !s.managed() {
		return true
	}
	return s.owner.IsValid() && s.handle().IsValid()
}

func (s *Set[E]) cells() []cell.Value {
	s.handle()
	_, c, err := s.owner.readColumn(s.name, CollSet)
	ensure(err)
	return c.items
}

func (s *Set[E]) localIndex(v E) int {
	return slices.IndexFunc(s.local, func(e E) bool { return localEqual(e, v) })
}

func (s *Set[E]) Len() int {
	if !s.managed() {
		return len(s.local)
	}
	return len(s.cells())
}

func (s *Set[E]) Contains(v E) bool {
	if !s.managed() {
		return s.localIndex(v) >= 0
	}
	items := s.cells()
	c, err := toCell(s.owner.db, v)
	if err != nil {
		return false
	}
	return setContains(items, c)
}

func (s *Set[E]) Items() []E {
	if !s.managed() {
		return slices.Clone(s.local)
	}
	items := s.cells()
	out := make([]E, len(items))
	for i, v := range items {
		out[i] = must(fromCell[E](s.owner.db, v))
	}
	return out
}

func (s *Set[E]) All() iter.Seq[E] {
	return slices.Values(s.Items())
}

func (s *Set[E]) edit(f func(prop *Property, items []cell.Value) ([]cell.Value, error)) {
	s.handle()
	ensure(s.owner.mutateColumn(s.name, CollSet, func(prop *Property, c *column) error {
		items, err := f(prop, c.items)
		c.items = items
		return err
	}))
}

// Add inserts v and reports whether it was not already present.
func (s *Set[E]) Add(v E) bool {
	if !s.managed() {
		if s.localIndex(v) >= 0 {
			return false
		}
		s.local = append(s.local, v)
		s.owner.firePropertyChanged(s.name)
		return true
	}
	var added bool
	s.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		c, err := elemCell(s.owner, prop, v)
		if err != nil {
			return items, err
		}
		n := len(items)
		items = setInsert(items, c)
		added = len(items) > n
		return items, nil
	})
	return added
}

// Remove deletes v and reports whether it was present.
func (s *Set[E]) Remove(v E) bool {
	if !s.managed() {
		i := s.localIndex(v)
		if i < 0 {
			return false
		}
		s.local = slices.Delete(s.local, i, i+1)
		s.owner.firePropertyChanged(s.name)
		return true
	}
	c, err := toCell(s.owner.db, v)
	if err != nil {
		return false
	}
	var removed bool
	s.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		items, removed = setRemove(items, c)
		return items, nil
	})
	return removed
}

func (s *Set[E]) Clear() {
	if !s.managed() {
		s.local = nil
		s.owner.firePropertyChanged(s.name)
		return
	}
	s.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		return nil, nil
	})
}

func (s *Set[E]) UnionWith(vs ...E) {
	if !s.managed() {
		for _, v := range vs {
			if s.localIndex(v) < 0 {
				s.local = append(s.local, v)
			}
		}
		s.owner.firePropertyChanged(s.name)
		return
	}
	s.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		for _, v := range vs {
			c, err := elemCell(s.owner, prop, v)
			if err != nil {
				return items, err
			}
			items = setInsert(items, c)
		}
		return items, nil
	})
}

// IntersectWith keeps only the elements that are also in vs.
func (s *Set[E]) IntersectWith(vs ...E) {
	if !s.managed() {
		s.local = slices.DeleteFunc(s.local, func(e E) bool {
			return !slices.ContainsFunc(vs, func(v E) bool { return localEqual(e, v) })
		})
		s.owner.firePropertyChanged(s.name)
		return
	}
	var keep []cell.Value
	for _, v := range vs {
		if c, err := toCell(s.owner.db, v); err == nil {
			keep = setInsert(keep, c)
		}
	}
	s.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		return slices.DeleteFunc(items, func(c cell.Value) bool {
			return !setContains(keep, c)
		}), nil
	})
}

func (s *Set[E]) ExceptWith(vs ...E) {
	if !s.managed() {
		s.local = slices.DeleteFunc(s.local, func(e E) bool {
			return slices.ContainsFunc(vs, func(v E) bool { return localEqual(e, v) })
		})
		s.owner.firePropertyChanged(s.name)
		return
	}
	s.edit(func(prop *Property, items []cell.Value) ([]cell.Value, error) {
		for _, v := range vs {
			if c, err := toCell(s.owner.db, v); err == nil {
				items, _ = setRemove(items, c)
			}
		}
		return items, nil
	})
}

func (s *Set[E]) localColumn(db *DB, prop *Property) (column, error) {
	items, err := localCells(db, prop, s.local)
	if err != nil {
		return column{}, err
	}
	return column{items: normalizeSet(items)}, nil
}

// Observe subscribes to changes of the set. Indices refer to the sorted
// order of the elements.
func (s *Set[E]) Observe(fn func(cs *changeset.ChangeSet, err error)) (*Token, error) {
	if !s.managed() {
		return nil, errUnmanagedObserve(s.owner)
	}
	s.handle()
	return observeSeq(s.owner, s.name, CollSet, fn)
}
