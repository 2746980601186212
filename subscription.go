package objdb

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/objdb/cell"
	"github.com/andreyvit/objdb/changeset"
)

// snapshot is what a subscription remembers about the state it last
// delivered: ordered items for results and lists, keyed items for
// dictionaries, column hashes for objects.
type snapshot struct {
	items   []changeset.Item
	dict    map[string]changeset.Item
	hashes  []uint64
	deleted bool
}

type subscription struct {
	n    *notifier
	db   *DB
	desc string

	take func(r reader) (snapshot, error)
	diff func(old, new snapshot) (change any, empty bool)
	emit func(change any, err error)

	// final subscriptions stop after their next delivery
	final func(snap snapshot) bool

	// guarded by n.mu
	state     subState
	cancelled bool

	// owned by whoever moved the state away from idle
	version uint64
	base    snapshot
}

func (sub *subscription) isCancelled() bool {
	sub.n.mu.Lock()
	defer sub.n.mu.Unlock()
	return sub.cancelled
}

// deliver runs on the owner's scheduler. The instance reads the delivered
// version until the callback returns; if commits landed after the worker's
// snapshot, the change set is recomputed against the newest version first.
func (sub *subscription) deliver(snap snapshot, ver uint64, change any) {
	if sub.isCancelled() || sub.db.closed {
		return
	}
	stx, release, err := sub.db.pinRead()
	if err != nil {
		sub.fail(err)
		return
	}
	defer release()

	r := reader{sub.db.coord, stx}
	if v := r.version(); v != ver {
		snap, err = sub.take(r)
		if err != nil {
			sub.fail(err)
			return
		}
		ver = v
		var empty bool
		if change, empty = sub.diff(sub.base, snap); empty {
			sub.base, sub.version = snap, ver
			return
		}
	}
	sub.base, sub.version = snap, ver
	if sub.final != nil && sub.final(snap) {
		sub.n.remove(sub)
	}
	sub.emit(change, nil)
}

// fail runs on the owner's scheduler.
func (sub *subscription) fail(err error) {
	if sub.isCancelled() {
		return
	}
	sub.n.remove(sub)
	sub.db.logger.Warn("objdb: change notification failed", "sub", sub.desc, "err", err)
	sub.emit(nil, &NotificationError{Err: err})
}

// Token identifies a subscription. Cancel stops it; a change set computed
// before Cancel is discarded rather than delivered.
type Token struct {
	sub *subscription
}

func (t *Token) Cancel() {
	if t == nil || t.sub == nil {
		return
	}
	t.sub.n.remove(t.sub)
}

func (t *Token) IsActive() bool {
	return t != nil && t.sub != nil && !t.sub.isCancelled()
}

func errUnmanagedObserve(o *Object) error {
	return fmt.Errorf("%w: cannot observe unmanaged %v", ErrInvalidatedObject, o)
}

// subscribe takes the baseline snapshot at the version db currently sees and
// registers sub with the notifier.
func (db *DB) subscribe(sub *subscription) (*Token, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	if db.wtx != nil {
		return nil, ErrSubscribeInWriteTransaction
	}
	sub.n = db.coord.notifier
	sub.db = db
	err := db.withReader(func(r reader) error {
		snap, err := sub.take(r)
		if err != nil {
			return err
		}
		sub.base, sub.version = snap, r.version()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sub.n.add(sub)
	if db.verbose {
		db.logger.Debug("objdb: subscribed", "sub", sub.desc, "version", sub.version)
	}
	return &Token{sub}, nil
}

func keyID(key ObjKey) string {
	return strconv.FormatUint(uint64(key), 10)
}

// observeQuery subscribes to a query; change sets index into its results.
// A row that was rewritten counts as modified.
func observeQuery(db *DB, q query, fn func(*changeset.ChangeSet, error)) (*Token, error) {
	q = q.clone()
	return db.subscribe(&subscription{
		desc: "results " + q.String(),
		take: func(r reader) (snapshot, error) {
			keys, err := q.evaluate(r)
			if err != nil {
				return snapshot{}, err
			}
			items := make([]changeset.Item, len(keys))
			for i, key := range keys {
				meta, _, err := r.rowMeta(q.table, key)
				if err != nil {
					return snapshot{}, err
				}
				items[i] = changeset.Item{ID: keyID(key), Version: meta.ModCount}
			}
			return snapshot{items: items}, nil
		},
		diff: diffItems,
		emit: emitChangeSet(fn),
	})
}

func diffItems(old, new snapshot) (any, bool) {
	cs := changeset.Diff(old.items, new.items)
	return cs, cs.IsEmpty()
}

func emitChangeSet(fn func(*changeset.ChangeSet, error)) func(any, error) {
	return func(change any, err error) {
		cs, _ := change.(*changeset.ChangeSet)
		fn(cs, err)
	}
}

// elemItem identifies a collection element by value; links also carry the
// modification count of the target row so that edits to linked objects
// show up as modifications.
func elemItem(r reader, prop *Property, v cell.Value) (changeset.Item, error) {
	item := changeset.Item{ID: v.Key()}
	if prop.IsLink() && !v.IsNull() {
		l, err := v.AsLink()
		if err != nil {
			return item, err
		}
		meta, _, err := r.rowMeta(prop.target, ObjKey(l.Key))
		if err != nil {
			return item, err
		}
		item.Version = meta.ModCount
	}
	return item, nil
}

// ownerColumn reads one column of the owner row; a deleted owner reads as
// an empty column.
func ownerColumn(r reader, tbl *Table, key ObjKey, prop *Property) (column, bool, error) {
	row, _, found, err := r.getRow(tbl, key)
	if err != nil || !found {
		return column{}, false, err
	}
	return row.cols[prop.col], true, nil
}

// observeSeq subscribes to a list or set property of o.
func observeSeq(o *Object, name string, coll CollectionKind, fn func(*changeset.ChangeSet, error)) (*Token, error) {
	prop, err := o.collectionProp(name, coll)
	if err != nil {
		return nil, err
	}
	if err := o.checkManaged(); err != nil {
		return nil, err
	}
	if o.pending != nil {
		return nil, propErr(o.table, name, ErrPrimaryKeyOrder)
	}
	tbl, key := o.table, o.key
	return o.db.subscribe(&subscription{
		desc: fmt.Sprintf("%s/%d.%s", tbl.name, key, name),
		take: func(r reader) (snapshot, error) {
			c, found, err := ownerColumn(r, tbl, key, prop)
			if err != nil {
				return snapshot{}, err
			}
			items := make([]changeset.Item, len(c.items))
			for i, v := range c.items {
				if items[i], err = elemItem(r, prop, v); err != nil {
					return snapshot{}, err
				}
			}
			return snapshot{items: items, deleted: !found}, nil
		},
		diff:  diffItems,
		emit:  emitChangeSet(fn),
		final: func(snap snapshot) bool { return snap.deleted },
	})
}

// observeDict subscribes to a dictionary property of o.
func observeDict(o *Object, name string, fn func(*changeset.DictionaryChangeSet, error)) (*Token, error) {
	prop, err := o.collectionProp(name, CollDictionary)
	if err != nil {
		return nil, err
	}
	if err := o.checkManaged(); err != nil {
		return nil, err
	}
	if o.pending != nil {
		return nil, propErr(o.table, name, ErrPrimaryKeyOrder)
	}
	tbl, key := o.table, o.key
	return o.db.subscribe(&subscription{
		desc: fmt.Sprintf("%s/%d.%s", tbl.name, key, name),
		take: func(r reader) (snapshot, error) {
			c, found, err := ownerColumn(r, tbl, key, prop)
			if err != nil {
				return snapshot{}, err
			}
			dict := make(map[string]changeset.Item, len(c.dict))
			for k, v := range c.dict {
				if dict[k], err = elemItem(r, prop, v); err != nil {
					return snapshot{}, err
				}
			}
			return snapshot{dict: dict, deleted: !found}, nil
		},
		diff: func(old, new snapshot) (any, bool) {
			cs := changeset.DiffKeys(old.dict, new.dict)
			return cs, cs.IsEmpty()
		},
		emit: func(change any, err error) {
			cs, _ := change.(*changeset.DictionaryChangeSet)
			fn(cs, err)
		},
		final: func(snap snapshot) bool { return snap.deleted },
	})
}

// Observe subscribes to changes of o's persisted properties. Deleting o
// delivers a change with Deleted set and ends the subscription.
func (o *Object) Observe(fn func(change *changeset.ObjectChange, err error)) (*Token, error) {
	if o.db == nil {
		return nil, errUnmanagedObserve(o)
	}
	if err := o.checkManaged(); err != nil {
		return nil, err
	}
	if o.pending != nil {
		return nil, fmt.Errorf("%v: %w", o, ErrPrimaryKeyOrder)
	}
	tbl, key := o.table, o.key
	return o.db.subscribe(&subscription{
		desc: fmt.Sprintf("%s/%d", tbl.name, key),
		take: func(r reader) (snapshot, error) {
			row, _, found, err := r.getRow(tbl, key)
			if err != nil {
				return snapshot{}, err
			}
			if !found {
				return snapshot{deleted: true}, nil
			}
			hashes := make([]uint64, len(tbl.columns))
			var buf []byte
			for i, prop := range tbl.columns {
				buf = columnBytes(buf[:0], prop.Coll, row.cols[prop.col])
				hashes[i] = xxhash.Sum64(buf)
			}
			return snapshot{hashes: hashes}, nil
		},
		diff: func(old, new snapshot) (any, bool) {
			change := &changeset.ObjectChange{}
			switch {
			case old.deleted:
			case new.deleted:
				change.Deleted = true
			default:
				for i, prop := range tbl.columns {
					if old.hashes[i] != new.hashes[i] {
						change.ChangedProperties = append(change.ChangedProperties, prop.Name)
					}
				}
			}
			return change, change.IsEmpty()
		},
		emit: func(change any, err error) {
			oc, _ := change.(*changeset.ObjectChange)
			fn(oc, err)
		},
		final: func(snap snapshot) bool { return snap.deleted },
	})
}
