package objdb

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Tx is a write transaction of one instance. Objects added, modified or
// removed through the instance while it is open become visible to other
// instances on Commit.
type Tx struct {
	db *DB
	w  writer
	h  *handle

	changes   []Change
	added     []*Object
	fresh     []*Object
	mutations int
	done      bool

	startTime time.Time
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Schema() *Schema {
	return tx.db.schema
}

// IsValid reports whether the transaction can still be used.
func (tx *Tx) IsValid() bool {
	return !tx.done && tx.h.IsValid()
}

// Changes lists the row changes made so far, in order.
func (tx *Tx) Changes() []Change {
	return tx.changes
}

func (tx *Tx) recordChange(tbl *Table, key ObjKey, op Op) {
	tx.changes = append(tx.changes, Change{table: tbl, op: op, key: key})
	tx.mutations++
	if tx.db.verbose {
		tx.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "objdb: "+strings.ToUpper(op.String()), slog.String("table", tbl.name), slog.Uint64("key", uint64(key)))
	}
}

func (tx *Tx) check() error {
	if tx.done {
		return ErrTransactionDone
	}
	if err := tx.db.check(); err != nil {
		return err
	}
	if !tx.h.IsValid() {
		return ErrTransactionDone
	}
	return nil
}

// Commit makes the changes durable and visible, and schedules change
// notifications for every subscription of the file.
func (tx *Tx) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	db := tx.db
	tx.done = true
	defer tx.h.Release()
	defer db.detachTx(tx)

	stx := tx.w.stx
	var version uint64
	if tx.mutations > 0 {
		meta := stx.Bucket(metaBucketName, "")
		version = getUint64(meta, metaVersionKey) + 1
		if err := putUint64(meta, metaVersionKey, version); err != nil {
			stx.Rollback()
			tx.revert()
			return db.fail("commit", err)
		}
	}
	if err := stx.Commit(); err != nil {
		stx.Rollback()
		tx.revert()
		return db.fail("commit", err)
	}
	for _, o := range tx.fresh {
		o.dropPending()
	}
	if tx.mutations > 0 {
		c := db.coord
		for {
			cur := c.version.Load()
			if cur >= version || c.version.CompareAndSwap(cur, version) {
				break
			}
		}
		if db.verbose {
			db.logger.LogAttrs(context.Background(), slog.LevelDebug, "objdb: COMMIT", slog.Uint64("version", version), slog.Int("changes", len(tx.changes)), slog.Duration("elapsed", time.Since(tx.startTime)))
		}
		c.notifier.committed(version)
	}
	return nil
}

// Rollback discards the changes. Objects added in the transaction become
// unmanaged again; objects created but never given a primary key become
// invalid. Rolling back a finished transaction does nothing.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.h.Release()
	defer tx.db.detachTx(tx)
	err := tx.w.stx.Rollback()
	tx.revert()
	if err != nil {
		return tx.db.fail("rollback", err)
	}
	return nil
}

func (tx *Tx) revert() {
	for _, o := range tx.added {
		o.detach()
	}
	for _, o := range tx.fresh {
		o.dropPending()
	}
	tx.added, tx.fresh = nil, nil
}
