package objdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andreyvit/objdb/sched"
	"github.com/google/uuid"
)

// DB is one instance of an open file. An instance belongs to the goroutine
// its scheduler is bound to; every method must be called from there. Open
// the same path again to use the data from another goroutine: instances of
// one file share the schema, the storage and the notifier.
type DB struct {
	coord   *coordinator
	schema  *Schema
	id      uuid.UUID
	logger  *slog.Logger
	verbose bool

	sched sched.Scheduler
	queue *sched.Queue

	closed bool
	fatal  error

	wtx        *Tx
	rtx        storageTx
	pinned     storageTx // rtx while a notification callback runs
	handles    *handleRegistry
	tableRoots map[*Table]*handle

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

// ObjKey identifies an object within its table. Keys are assigned in
// creation order and never reused.
type ObjKey uint64

// Open opens or creates the file at path with the given schema. The file is
// created, migrated or wiped as Options dictate; any incompatibility is
// reported here as a *SchemaError or a *ConfigError.
func Open(path string, schema *Schema, opt Options) (*DB, error) {
	if schema == nil {
		return nil, configErrf(path, nil, "schema is required; use OpenDynamic to adopt the stored one")
	}
	return open(path, schema, opt)
}

// OpenDynamic opens an existing file with the schema stored in it. Objects
// are accessed through the dynamic API.
func OpenDynamic(path string, opt Options) (*DB, error) {
	return open(path, nil, opt)
}

func open(path string, schema *Schema, opt Options) (*DB, error) {
	opt.setDefaults()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	db := &DB{
		id:         id,
		logger:     opt.Logger.With("db", id.String()),
		verbose:    opt.Verbose,
		handles:    newHandleRegistry(),
		tableRoots: make(map[*Table]*handle),
	}
	if opt.Scheduler != nil {
		if !opt.Scheduler.IsCurrent() {
			return nil, ErrWrongThread
		}
		db.sched = opt.Scheduler
	} else {
		db.queue = sched.NewQueue()
		db.sched = db.queue
	}

	c, err := acquireCoordinator(db, path, schema, &opt)
	if err != nil {
		if db.queue != nil {
			db.queue.Close()
		}
		return nil, err
	}
	db.coord = c
	db.schema = c.schema
	if db.verbose {
		db.logger.Debug("objdb: opened", "path", path, "version", c.version.Load())
	}
	return db, nil
}

func (db *DB) Schema() *Schema { return db.schema }
func (db *DB) Path() string    { return db.coord.path }
func (db *DB) IsClosed() bool  { return db.closed }

// IsInvalid reports whether the instance hit a storage failure and refuses
// further work.
func (db *DB) IsInvalid() bool { return db.fatal != nil }

// SchemaVersion is the schema version the file is at.
func (db *DB) SchemaVersion() uint64 { return db.coord.schemaVersion }

func (db *DB) Scheduler() sched.Scheduler { return db.sched }

func (db *DB) Logger() *slog.Logger { return db.logger }

// Close rolls back a pending write transaction, cancels subscriptions and
// releases every handle. Objects and collections of this instance become
// invalid.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	if !db.sched.IsCurrent() {
		return ErrWrongThread
	}
	if db.wtx != nil {
		db.wtx.Rollback()
	}
	if db.pinned != nil {
		db.unpin()
	}
	db.closed = true
	db.handles.releaseAll()
	db.coord.notifier.unsubscribeAll(db)
	db.coord.release()
	if db.queue != nil {
		db.queue.Close()
	}
	return nil
}

func (db *DB) check() error {
	switch {
	case db == nil:
		return ErrInvalidatedObject
	case db.closed:
		return ErrInstanceClosed
	case db.fatal != nil:
		return fmt.Errorf("%w: %v", ErrInstanceInvalid, db.fatal)
	case !db.sched.IsCurrent():
		return ErrWrongThread
	}
	return nil
}

// fail classifies an error coming out of storage. Errors of the known
// categories pass through; anything else is an engine failure that
// invalidates the instance.
func (db *DB) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBucketNotFound) {
		return fmt.Errorf("%w: %v", ErrInvalidatedObject, err)
	}
	var de *DataError
	if Category(err) != CategoryNone && !errors.As(err, &de) {
		return err
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		ee = &EngineError{Op: op, Err: err}
	}
	if db.fatal == nil {
		db.fatal = ee
		db.logger.LogAttrs(context.Background(), slog.LevelError, "objdb: instance invalidated", slog.String("op", op), slog.Any("err", err))
	}
	return ee
}

func (db *DB) now() time.Time {
	return time.Now()
}

// withReader runs fn against the current transaction: the write
// transaction, the one pinned by Read, or a fresh read-only one.
func (db *DB) withReader(fn func(r reader) error) error {
	if err := db.check(); err != nil {
		return err
	}
	if db.wtx != nil {
		return db.fail("read", fn(db.wtx.w.reader))
	}
	if db.rtx != nil {
		return db.fail("read", fn(reader{c: db.coord, stx: db.rtx}))
	}
	stx, err := db.coord.beginRead()
	if err != nil {
		return db.fail("begin read", err)
	}
	defer stx.Rollback()
	db.ReadCount.Add(1)
	return db.fail("read", fn(reader{c: db.coord, stx: stx}))
}

// Read runs f with a single read transaction pinned, so everything f reads
// comes from one version. Inside a write transaction f just runs.
func (db *DB) Read(f func() error) error {
	if err := db.check(); err != nil {
		return err
	}
	if db.wtx != nil || db.rtx != nil {
		return safelyCall(f)
	}
	stx, err := db.coord.beginRead()
	if err != nil {
		return db.fail("begin read", err)
	}
	db.ReadCount.Add(1)
	db.rtx = stx
	defer func() {
		db.rtx = nil
		stx.Rollback()
	}()
	return safelyCall(f)
}

// Write runs f inside a write transaction and commits it, or rolls back if
// f returns an error or panics with one.
func (db *DB) Write(f func(tx *Tx) error) error {
	tx, err := db.BeginWrite()
	if err != nil {
		return err
	}
	err = safelyCall(func() error {
		return f(tx)
	})
	if err != nil {
		tx.Rollback()
		return err
	}
	if tx.done {
		return nil
	}
	return tx.Commit()
}

// BeginWrite starts a write transaction. Only one write transaction can be
// open per instance; other instances wait for the storage lock.
func (db *DB) BeginWrite() (*Tx, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	if db.rtx != nil && db.rtx == db.pinned {
		db.unpin()
	}
	if db.wtx != nil || db.rtx != nil {
		return nil, ErrNestedWriteTransaction
	}
	stx, err := db.coord.beginWrite()
	if errors.Is(err, ErrReadOnly) {
		return nil, err
	} else if err != nil {
		return nil, db.fail("begin write", err)
	}
	db.WriteCount.Add(1)
	tx := db.attachTx(stx)
	tx.h = db.handles.newHandle(HandleTx, nil)
	return tx, nil
}

func (db *DB) IsInWriteTransaction() bool {
	return db.wtx != nil
}

// pinRead makes the instance read one version until release is called. A
// pin already in place is reused. Inside a write transaction the returned
// transaction is private to the caller.
func (db *DB) pinRead() (stx storageTx, release func(), err error) {
	if db.rtx != nil {
		return db.rtx, func() {}, nil
	}
	stx, err = db.coord.beginRead()
	if err != nil {
		return nil, nil, db.fail("begin read", err)
	}
	db.ReadCount.Add(1)
	if db.wtx != nil {
		return stx, func() { stx.Rollback() }, nil
	}
	db.rtx, db.pinned = stx, stx
	return stx, func() {
		if db.pinned == stx {
			db.unpin()
		}
	}, nil
}

// unpin ends a pinned read early. A write transaction started from a
// notification callback reads its own state from then on.
func (db *DB) unpin() {
	stx := db.pinned
	db.pinned = nil
	if db.rtx == stx {
		db.rtx = nil
	}
	stx.Rollback()
}

// Version returns the commit counter visible to this instance.
func (db *DB) Version() (uint64, error) {
	var v uint64
	err := db.withReader(func(r reader) error {
		v = r.version()
		return nil
	})
	return v, err
}

// Refresh delivers the notifications of this instance: it waits for change
// set computations in flight, then runs callbacks queued on the instance's
// default scheduler. With a custom Options.Scheduler it only waits.
func (db *DB) Refresh() error {
	if err := db.check(); err != nil {
		return err
	}
	if db.wtx != nil {
		return nil
	}
	for {
		db.coord.notifier.waitIdle(db)
		if db.queue == nil || db.queue.Drain() == 0 {
			return nil
		}
		if db.closed {
			return nil
		}
	}
}

func (db *DB) attachTx(stx storageTx) *Tx {
	tx := &Tx{
		db:        db,
		startTime: time.Now(),
	}
	tx.w = writer{reader: reader{c: db.coord, stx: stx}, onChange: tx.recordChange}
	db.wtx = tx
	return tx
}

func (db *DB) detachTx(tx *Tx) {
	if db.wtx == tx {
		db.wtx = nil
	}
}

// objectFor returns a fresh accessor for a row: a typed model if the table
// has one, a *DynamicObject otherwise.
func (db *DB) objectFor(tbl *Table, key ObjKey) Model {
	if tbl.newObj == nil {
		return db.dynamicObject(tbl, key)
	}
	m := tbl.newObj()
	o := m.objectBase()
	o.attach(db, tbl, key, m)
	return m
}

func (db *DB) dynamicObject(tbl *Table, key ObjKey) *DynamicObject {
	d := &DynamicObject{}
	d.attach(db, tbl, key, d)
	return d
}

// frozenObject returns a read-only view of row that does not consult
// storage.
func (db *DB) frozenObject(tbl *Table, key ObjKey, row *rowData) *DynamicObject {
	d := db.dynamicObject(tbl, key)
	d.frozen = row
	return d
}

// table resolves a table of the schema this instance was opened with.
func (db *DB) table(name string) (*Table, error) {
	tbl := db.schema.Table(name)
	if tbl == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownType)
	}
	return tbl, nil
}

func (db *DB) tableFor(m Model) (*Table, error) {
	if d, ok := m.(*DynamicObject); ok && d != nil && d.table != nil {
		return d.table, nil
	}
	tbl := modelTable(m)
	if tbl == nil {
		return nil, fmt.Errorf("%T: %w", m, ErrUnknownType)
	}
	if tbl.schema != db.schema {
		return nil, fmt.Errorf("%T: %w", m, ErrUnknownType)
	}
	return tbl, nil
}

// tableRoot is the handle that row, collection and query handles of tbl
// are rooted to.
func (db *DB) tableRoot(tbl *Table) *handle {
	h := db.tableRoots[tbl]
	if h == nil || !h.IsValid() {
		h = db.handles.newHandle(HandleTable, nil)
		db.tableRoots[tbl] = h
	}
	return h
}
