package objdb

import (
	"fmt"
	"iter"
	"reflect"
	"slices"

	"github.com/andreyvit/objdb/cell"
	"github.com/andreyvit/objdb/changeset"
)

// query selects rows of a table: every row, the rows matching equality
// filters, or the origins of a backlink, optionally sorted.
type query struct {
	table   *Table
	filters []filter
	sorts   []sortKey

	// backlink queries list the rows of table whose origin property links
	// to the owner row.
	origin   *Property
	ownerTbl *Table
	ownerKey ObjKey
}

type filter struct {
	prop  *Property
	value cell.Value
}

type sortKey struct {
	prop      *Property
	ascending bool
}

func (q query) clone() query {
	q.filters = slices.Clone(q.filters)
	q.sorts = slices.Clone(q.sorts)
	return q
}

func (q *query) String() string {
	s := q.table.name
	if q.origin != nil {
		s = fmt.Sprintf("%s.%s -> %s/%d", q.table.name, q.origin.Name, q.ownerTbl.name, q.ownerKey)
	}
	for _, f := range q.filters {
		s += fmt.Sprintf(" where %s == %v", f.prop.Name, f.value)
	}
	for _, sk := range q.sorts {
		dir := "asc"
		if !sk.ascending {
			dir = "desc"
		}
		s += fmt.Sprintf(" sort %s %s", sk.prop.Name, dir)
	}
	return s
}

// evaluate returns the matching object keys in result order. Rows are
// ordered by key unless sorted; sort ties are also broken by key.
func (q *query) evaluate(r reader) ([]ObjKey, error) {
	var keys []ObjKey
	var err error
	filters := q.filters
	switch {
	case q.origin != nil:
		ok, err := r.exists(q.ownerTbl, q.ownerKey)
		if err != nil || !ok {
			return nil, err
		}
		keys, err = r.linkOrigins(q.origin, q.ownerKey)
		if err != nil {
			return nil, err
		}
	case len(filters) > 0 && filters[0].prop.Primary:
		key, found, err := r.lookupPrimary(q.table, filters[0].value)
		if err != nil {
			return nil, err
		}
		if found {
			keys = []ObjKey{key}
		}
		filters = filters[1:]
	case len(filters) > 0 && filters[0].prop.valueIndex != nil:
		keys, err = r.lookupIndexed(filters[0].prop, filters[0].value)
		if err != nil {
			return nil, err
		}
		filters = filters[1:]
	default:
		keys, err = r.keys(q.table)
		if err != nil {
			return nil, err
		}
	}
	if len(filters) == 0 && len(q.sorts) == 0 {
		return keys, nil
	}

	type entry struct {
		key ObjKey
		row *rowData
	}
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		row, _, found, err := r.getRow(q.table, key)
		if err != nil {
			return nil, err
		}
		if !found || !matches(row, filters) {
			continue
		}
		entries = append(entries, entry{key, row})
	}
	if len(q.sorts) > 0 {
		slices.SortFunc(entries, func(a, b entry) int {
			for _, sk := range q.sorts {
				c := cell.Compare(a.row.cols[sk.prop.col].v, b.row.cols[sk.prop.col].v)
				if !sk.ascending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return cmpKeys(a.key, b.key)
		})
	}
	keys = keys[:0]
	for _, e := range entries {
		keys = append(keys, e.key)
	}
	return keys, nil
}

func matches(row *rowData, filters []filter) bool {
	for _, f := range filters {
		if !cell.Equal(row.cols[f.prop.col].v, f.value) {
			return false
		}
	}
	return true
}

func cmpKeys(a, b ObjKey) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Results is a live query: every read re-evaluates it against the version
// the instance currently sees. Methods panic with objdb errors.
type Results[T any] struct {
	db *DB
	q  query
	h  *handle

	cacheStamp resultsStamp
	cacheKeys  []ObjKey
}

type resultsStamp struct {
	version   uint64
	tx        *Tx
	mutations int
	valid     bool
}

func newResults[T any](db *DB, q query) *Results[T] {
	res := &Results[T]{db: db, q: q}
	res.h = rootHandle(db.handles, res, HandleQuery, db.tableRoot(q.table))
	return res
}

// All returns every object of T's table, in creation order.
func All[T Model](db *DB) (*Results[T], error) {
	var zero T
	tbl, err := db.tableFor(zero)
	if err != nil {
		return nil, err
	}
	if err := db.check(); err != nil {
		return nil, err
	}
	return newResults[T](db, query{table: tbl}), nil
}

// Where returns the objects of T's table whose property prop equals value.
func Where[T Model](db *DB, prop string, value any) (*Results[T], error) {
	res, err := All[T](db)
	if err != nil {
		return nil, err
	}
	return res.where(prop, value)
}

// Find looks an object up by primary key.
func Find[T Model](db *DB, pk any) (T, bool, error) {
	var zero T
	tbl, err := db.tableFor(zero)
	if err != nil {
		return zero, false, err
	}
	key, found, err := db.findPrimary(tbl, pk)
	if err != nil || !found {
		return zero, false, err
	}
	obj, ok := db.objectFor(tbl, key).(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s objects are not %T", ErrTypeMismatch, tbl.name, zero)
	}
	return obj, true, nil
}

func (db *DB) findPrimary(tbl *Table, pk any) (ObjKey, bool, error) {
	if tbl.primary == nil {
		return 0, false, fmt.Errorf("%s: %w: no primary key", tbl.name, ErrUnknownProperty)
	}
	v, err := toCell(db, pk)
	if err != nil {
		return 0, false, propErr(tbl, tbl.primary.Name, err)
	}
	v, err = tbl.primary.checkValue(v)
	if err != nil {
		return 0, false, err
	}
	var key ObjKey
	var found bool
	err = db.withReader(func(r reader) error {
		key, found, err = r.lookupPrimary(tbl, v)
		return err
	})
	return key, found, err
}

// DynamicAll returns every object of the named table.
func (db *DB) DynamicAll(table string) (*Results[*DynamicObject], error) {
	tbl, err := db.table(table)
	if err != nil {
		return nil, err
	}
	if err := db.check(); err != nil {
		return nil, err
	}
	return newResults[*DynamicObject](db, query{table: tbl}), nil
}

// DynamicFind looks an object of the named table up by primary key.
func (db *DB) DynamicFind(table string, pk cell.Value) (*DynamicObject, bool, error) {
	tbl, err := db.table(table)
	if err != nil {
		return nil, false, err
	}
	key, found, err := db.findPrimary(tbl, pk)
	if err != nil || !found {
		return nil, false, err
	}
	return db.dynamicObject(tbl, key), true, nil
}

// BacklinkProperty is the getter of a generated backlink accessor.
func BacklinkProperty[E any](m Model, name string, field **Results[E]) *Results[E] {
	if *field == nil || !(*field).IsValid() {
		*field = must(GetBacklinks[E](ObjectOf(m), name))
	}
	return *field
}

// GetBacklinks returns the objects whose link property, named by the
// backlink property name, points at o.
func GetBacklinks[E any](o *Object, name string) (*Results[E], error) {
	tbl, err := o.boundTable()
	if err != nil {
		return nil, err
	}
	prop, err := tbl.prop(name)
	if err != nil {
		return nil, err
	}
	if !prop.IsBacklink() {
		return nil, propErr(tbl, name, fmt.Errorf("%w: %s is not a backlink", ErrTypeMismatch, prop.TypeString()))
	}
	if err := o.checkManaged(); err != nil {
		return nil, err
	}
	if prop.origin == nil {
		return nil, propErr(tbl, name, ErrUnknownProperty)
	}
	if et := reflect.TypeFor[E](); !holdsObjectsOf(et, prop.target) {
		return nil, propErr(tbl, name, fmt.Errorf("%w: %v cannot hold %s objects", ErrTypeMismatch, et, prop.Target))
	}
	return newResults[E](o.db, query{
		table:    prop.target,
		origin:   prop.origin,
		ownerTbl: tbl,
		ownerKey: o.key,
	}), nil
}

func (res *Results[T]) Table() *Table { return res.q.table }
func (res *Results[T]) DB() *DB       { return res.db }
func (res *Results[T]) String() string {
	return res.q.String()
}

func (res *Results[T]) IsValid() bool {
	return res.h.IsValid() && res.db.check() == nil
}

func (res *Results[T]) where(name string, value any) (*Results[T], error) {
	prop, err := res.q.table.prop(name)
	if err != nil {
		return nil, err
	}
	if prop.IsBacklink() || prop.Coll != CollNone {
		return nil, propErr(res.q.table, name, fmt.Errorf("%w: cannot filter by %s", ErrTypeMismatch, prop.TypeString()))
	}
	v, err := toCell(res.db, value)
	if err != nil {
		return nil, propErr(res.q.table, name, err)
	}
	v, err = prop.checkValue(v)
	if err != nil {
		return nil, err
	}
	q := res.q.clone()
	q.filters = append(q.filters, filter{prop, v})
	if prop.Primary || prop.valueIndex != nil {
		// indexed filters go first so evaluate can use the index
		slices.SortStableFunc(q.filters, func(a, b filter) int {
			return boolRank(a.prop.Primary || a.prop.valueIndex != nil) - boolRank(b.prop.Primary || b.prop.valueIndex != nil)
		})
	}
	return newResults[T](res.db, q), nil
}

func boolRank(indexed bool) int {
	if indexed {
		return 0
	}
	return 1
}

// Where narrows the results to objects whose property equals value.
func (res *Results[T]) Where(prop string, value any) *Results[T] {
	return must(res.where(prop, value))
}

// Sorted orders the results by prop; earlier sort keys take precedence.
func (res *Results[T]) Sorted(name string, ascending bool) *Results[T] {
	prop := must(res.q.table.prop(name))
	if prop.IsBacklink() || prop.Coll != CollNone {
		panic(propErr(res.q.table, name, fmt.Errorf("%w: cannot sort by %s", ErrTypeMismatch, prop.TypeString())))
	}
	q := res.q.clone()
	q.sorts = append(q.sorts, sortKey{prop, ascending})
	return newResults[T](res.db, q)
}

// Keys evaluates the query.
func (res *Results[T]) Keys() ([]ObjKey, error) {
	if !res.h.IsValid() {
		if err := res.db.check(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", res.q.table.name, ErrInvalidatedObject)
	}
	var keys []ObjKey
	err := res.db.withReader(func(r reader) error {
		stamp := resultsStamp{version: r.version(), tx: res.db.wtx, valid: true}
		if stamp.tx != nil {
			stamp.mutations = stamp.tx.mutations
		}
		if stamp == res.cacheStamp {
			keys = res.cacheKeys
			return nil
		}
		var err error
		keys, err = res.q.evaluate(r)
		if err != nil {
			return err
		}
		res.cacheStamp, res.cacheKeys = stamp, keys
		return nil
	})
	return keys, err
}

func (res *Results[T]) object(key ObjKey) T {
	var zero T
	if _, ok := any(zero).(*DynamicObject); ok {
		return any(res.db.dynamicObject(res.q.table, key)).(T)
	}
	obj, ok := res.db.objectFor(res.q.table, key).(T)
	if !ok {
		panic(fmt.Errorf("%w: %s objects are not %T", ErrTypeMismatch, res.q.table.name, zero))
	}
	return obj
}

func (res *Results[T]) Len() int {
	return len(must(res.Keys()))
}

func (res *Results[T]) At(i int) T {
	keys := must(res.Keys())
	if i < 0 || i >= len(keys) {
		panic(fmt.Errorf("%s: %w: %d not in [0, %d)", res.q.table.name, ErrIndexOutOfRange, i, len(keys)))
	}
	return res.object(keys[i])
}

func (res *Results[T]) First() (T, bool) {
	keys := must(res.Keys())
	if len(keys) == 0 {
		var zero T
		return zero, false
	}
	return res.object(keys[0]), true
}

// Fetch returns the objects, reporting errors instead of panicking.
func (res *Results[T]) Fetch() ([]T, error) {
	keys, err := res.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(keys))
	for i, key := range keys {
		out[i] = res.object(key)
	}
	return out, nil
}

func (res *Results[T]) Items() []T {
	return must(res.Fetch())
}

func (res *Results[T]) All() iter.Seq2[int, T] {
	return slices.All(res.Items())
}

func (res *Results[T]) Release() {
	res.h.Release()
}

// Observe subscribes to changes of the results. Objects whose row was
// written are reported as modifications.
func (res *Results[T]) Observe(fn func(cs *changeset.ChangeSet, err error)) (*Token, error) {
	if !res.h.IsValid() {
		return nil, fmt.Errorf("%s: %w", res.q.table.name, ErrInvalidatedObject)
	}
	return observeQuery(res.db, res.q.clone(), fn)
}
