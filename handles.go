package objdb

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

type HandleKind uint8

const (
	HandleTx HandleKind = iota + 1
	HandleTable
	HandleRow
	HandleCollection
	HandleQuery
)

func (k HandleKind) String() string {
	switch k {
	case HandleTx:
		return "tx"
	case HandleTable:
		return "table"
	case HandleRow:
		return "row"
	case HandleCollection:
		return "collection"
	case HandleQuery:
		return "query"
	default:
		return fmt.Sprintf("HandleKind(%d)", int(k))
	}
}

// handle tracks the lifetime of one engine-side entity. A handle is rooted
// to its parent at creation and becomes invalid when it or any ancestor is
// released. Release is idempotent and may run from a GC cleanup.
type handle struct {
	reg      *handleRegistry
	id       uint64
	kind     HandleKind
	parent   *handle
	released atomic.Bool
}

func (h *handle) Kind() HandleKind {
	return h.kind
}

func (h *handle) IsValid() bool {
	for ; h != nil; h = h.parent {
		if h.released.Load() {
			return false
		}
	}
	return true
}

// Release reports whether this call did the release.
func (h *handle) Release() bool {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return false
	}
	h.reg.forget(h)
	return true
}

// handleRegistry is the per-instance set of live handles.
type handleRegistry struct {
	mu     sync.Mutex
	nextID uint64
	live   map[uint64]*handle
	closed bool
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{live: make(map[uint64]*handle)}
}

func (reg *handleRegistry) newHandle(kind HandleKind, parent *handle) *handle {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.nextID++
	h := &handle{reg: reg, id: reg.nextID, kind: kind, parent: parent}
	if reg.closed {
		h.released.Store(true)
		return h
	}
	reg.live[h.id] = h
	return h
}

func (reg *handleRegistry) forget(h *handle) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.live, h.id)
}

// releaseAll invalidates every live handle; later handles are born
// released.
func (reg *handleRegistry) releaseAll() {
	reg.mu.Lock()
	live := reg.live
	reg.live = make(map[uint64]*handle)
	reg.closed = true
	reg.mu.Unlock()
	for _, h := range live {
		h.released.Store(true)
	}
}

func (reg *handleRegistry) count(kind HandleKind) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var n int
	for _, h := range reg.live {
		if kind == 0 || h.kind == kind {
			n++
		}
	}
	return n
}

// rootHandle creates a handle owned by owner: when owner becomes
// unreachable, the handle is released by the garbage collector. The
// handle must not reference owner.
func rootHandle[T any](reg *handleRegistry, owner *T, kind HandleKind, parent *handle) *handle {
	h := reg.newHandle(kind, parent)
	runtime.AddCleanup(owner, func(h *handle) { h.Release() }, h)
	return h
}

// TableHandle refers to a storage table by name and numeric key.
type TableHandle struct {
	db   *DB
	h    *handle
	name string
	key  TableKey
}

// GetOrCreateTable returns a handle to the named table, creating an empty
// table without properties if the file does not have it. Creating a table
// needs an active write transaction.
func (db *DB) GetOrCreateTable(name string) (*TableHandle, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	if name == "" || name[0] == '_' {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrUnknownType, name)
	}
	var ts *tableState
	err := db.withReader(func(r reader) error {
		var err error
		ts, err = loadTableState(r.stx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ts == nil {
		tx := db.wtx
		if tx == nil {
			return nil, ErrNotInWriteTransaction
		}
		tbl := newTable(name)
		ts, err = db.coord.bindTable(tx.w.stx, tbl, nil, db.now())
		if err == nil {
			err = saveTableState(tx.w.stx, ts)
		}
		if err != nil {
			return nil, db.fail("create table", err)
		}
		tx.mutations++
	}
	return db.newTableHandle(name, ts.Key), nil
}

// TableByKey returns a handle to the table with the given key. The handle
// is invalid if no such table exists.
func (db *DB) TableByKey(key TableKey) *TableHandle {
	th := db.newTableHandle("", key)
	if err := db.check(); err != nil {
		th.h.Release()
		return th
	}
	var name string
	_ = db.withReader(func(r reader) error {
		states, err := loadStoredStates(r.stx)
		if err != nil {
			return err
		}
		for n, ts := range states {
			if ts.Key == key {
				name = n
			}
		}
		return nil
	})
	if name == "" {
		th.h.Release()
		return th
	}
	th.name = name
	return th
}

func (db *DB) newTableHandle(name string, key TableKey) *TableHandle {
	th := &TableHandle{db: db, name: name, key: key}
	th.h = rootHandle(db.handles, th, HandleTable, nil)
	return th
}

func (th *TableHandle) Name() string  { return th.name }
func (th *TableHandle) Key() TableKey { return th.key }

// IsValid reports whether the handle is live and the table still exists
// with the same key.
func (th *TableHandle) IsValid() bool {
	if !th.h.IsValid() || th.db.check() != nil {
		return false
	}
	var ok bool
	_ = th.db.withReader(func(r reader) error {
		ts, err := loadTableState(r.stx, th.name)
		ok = err == nil && ts != nil && ts.Key == th.key
		return nil
	})
	return ok
}

// Count returns the number of rows in the table.
func (th *TableHandle) Count() (int, error) {
	if !th.IsValid() {
		return 0, fmt.Errorf("table %q: %w", th.name, ErrInvalidatedObject)
	}
	var n int
	err := th.db.withReader(func(r reader) error {
		var err error
		n, err = r.count(newTable(th.name))
		return err
	})
	return n, err
}

func (th *TableHandle) Release() {
	th.h.Release()
}

// RowHandle refers to the storage row of a managed object.
type RowHandle struct {
	obj *Object
	h   *handle
}

func (rh *RowHandle) IsValid() bool {
	return rh.h.IsValid() && rh.IsAttached()
}

// IsAttached reports whether the row still exists.
func (rh *RowHandle) IsAttached() bool {
	return rh.obj.IsValid() && rh.obj.db != nil
}

// Index returns the current position of the row in its table. Positions
// shift as rows are deleted and must not be cached.
func (rh *RowHandle) Index() (int, error) {
	o := rh.obj
	if !rh.h.IsValid() {
		return -1, ErrInvalidatedObject
	}
	if err := o.checkManaged(); err != nil {
		return -1, err
	}
	var idx int
	err := o.db.withReader(func(r reader) error {
		i, found, err := r.rowIndex(o.table, o.key)
		if err != nil {
			return err
		}
		if !found {
			return ErrInvalidatedObject
		}
		idx = i
		return nil
	})
	return idx, err
}

func (rh *RowHandle) Release() {
	rh.h.Release()
}

// LiveHandles counts live handles of a kind; zero counts all kinds.
func (db *DB) LiveHandles(kind HandleKind) int {
	return db.handles.count(kind)
}
