package objdb

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/andreyvit/objdb/cell"
)

// reader gives row-level access to the storage transaction an instance is
// currently reading through.
type reader struct {
	c   *coordinator
	stx storageTx
}

// version is the commit counter as seen by this transaction.
func (r reader) version() uint64 {
	return getUint64(r.stx.Bucket(metaBucketName, ""), metaVersionKey)
}

func (r reader) dataBucket(tbl *Table) (storageBucket, error) {
	b := r.stx.Bucket(tbl.name, dataBucketName)
	if b == nil {
		return nil, fmt.Errorf("%s: %w", tbl.name, ErrBucketNotFound)
	}
	return b, nil
}

func (r reader) state(tbl *Table) (*tableState, error) {
	ts := r.c.states[tbl]
	if ts == nil {
		return nil, ErrUnknownType
	}
	return ts, nil
}

func (r reader) readValue(tbl *Table, key ObjKey) (vle value, plain []byte, found bool, err error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return vle, nil, false, err
	}
	keyRaw := appendObjKey(nil, key)
	raw := data.Get(keyRaw)
	if raw == nil {
		return vle, nil, false, nil
	}
	if err := vle.decode(raw); err != nil {
		return vle, nil, false, err
	}
	plain, err = r.open(keyRaw, vle)
	return vle, plain, true, err
}

func (r reader) open(keyRaw []byte, vle value) ([]byte, error) {
	if vle.Flags&vfEncrypted == 0 {
		return vle.Data, nil
	}
	if r.c.cipher == nil {
		return nil, ErrInvalidEncryptionKey
	}
	return r.c.cipher.open(nil, vle.Data, keyRaw)
}

// getRow decodes a row. The result is a private copy the caller may
// modify.
func (r reader) getRow(tbl *Table, key ObjKey) (*rowData, ValueMeta, bool, error) {
	vle, plain, found, err := r.readValue(tbl, key)
	if err != nil || !found {
		return nil, ValueMeta{}, found, err
	}
	row, err := tbl.decodeRow(plain)
	if err != nil {
		return nil, ValueMeta{}, false, err
	}
	return row, vle.ValueMeta(), true, nil
}

func (r reader) rowMeta(tbl *Table, key ObjKey) (ValueMeta, bool, error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return ValueMeta{}, false, err
	}
	raw := data.Get(appendObjKey(nil, key))
	if raw == nil {
		return ValueMeta{}, false, nil
	}
	var vle value
	if err := vle.decode(raw); err != nil {
		return ValueMeta{}, false, err
	}
	return vle.ValueMeta(), true, nil
}

func (r reader) exists(tbl *Table, key ObjKey) (bool, error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return false, err
	}
	return data.Get(appendObjKey(nil, key)) != nil, nil
}

// keys lists the objects of a table in key order, which is creation order.
func (r reader) keys(tbl *Table) ([]ObjKey, error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return nil, err
	}
	var keys []ObjKey
	c := data.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		key, err := decodeObjKey(k)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (r reader) count(tbl *Table) (int, error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return 0, err
	}
	var n int
	c := data.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

// rowIndex returns the position of an object among its table's rows.
func (r reader) rowIndex(tbl *Table, key ObjKey) (int, bool, error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return 0, false, err
	}
	keyRaw := appendObjKey(nil, key)
	if data.Get(keyRaw) == nil {
		return -1, false, nil
	}
	rang := rawOE(keyRaw)
	var n int
	for c := rang.newCursor(data.Cursor(), r.c.logger); c.Next(); {
		n++
	}
	return n, true, nil
}

func (r reader) scanRows(tbl *Table, f func(key ObjKey, row *rowData) error) error {
	keys, err := r.keys(tbl)
	if err != nil {
		return err
	}
	for _, key := range keys {
		row, _, found, err := r.getRow(tbl, key)
		if err != nil {
			return err
		}
		if found {
			if err := f(key, row); err != nil {
				return err
			}
		}
	}
	return nil
}

var errStopScan = errors.New("stop scan")

func (r reader) lookupPrimary(tbl *Table, v cell.Value) (ObjKey, bool, error) {
	idx := tbl.pkIndex
	if idx == nil {
		return 0, false, fmt.Errorf("%s: %w: no primary key", tbl.name, ErrUnknownProperty)
	}
	ts, err := r.state(tbl)
	if err != nil {
		return 0, false, err
	}
	if !ts.indexBuilt(idx) {
		var result ObjKey
		var found bool
		err := r.scanRows(tbl, func(key ObjKey, row *rowData) error {
			if cell.Equal(row.cols[idx.prop.col].v, v) {
				result, found = key, true
				return errStopScan
			}
			return nil
		})
		if err == errStopScan {
			err = nil
		}
		return result, found, err
	}
	b := r.stx.Bucket(tbl.name, idx.bucketName())
	if b == nil {
		return 0, false, fmt.Errorf("%s: %w", idx.FullName(), ErrBucketNotFound)
	}
	raw := b.Get(tuple{v.AppendKey(nil)}.encode(nil))
	if raw == nil {
		return 0, false, nil
	}
	key, err := decodeObjKey(raw)
	return key, err == nil, err
}

// indexKeys lists the object keys stored under elem in a non-unique
// index, falling back to a table scan while the index is being built.
func (r reader) indexKeys(idx *Index, elem []byte, match func(row *rowData) bool) ([]ObjKey, error) {
	ts, err := r.state(idx.table)
	if err != nil {
		return nil, err
	}
	if !ts.indexBuilt(idx) {
		var keys []ObjKey
		err := r.scanRows(idx.table, func(key ObjKey, row *rowData) error {
			if match(row) {
				keys = append(keys, key)
			}
			return nil
		})
		return keys, err
	}
	b := r.stx.Bucket(idx.table.name, idx.bucketName())
	if b == nil {
		return nil, fmt.Errorf("%s: %w", idx.FullName(), ErrBucketNotFound)
	}
	var keys []ObjKey
	rang := rawPrefix(elem)
	for c := rang.newCursor(b.Cursor(), r.c.logger); c.Next(); {
		tup, err := decodeTuple(c.Key())
		if err != nil {
			return nil, dataErrf(c.Key(), 0, err, "%s: invalid index key", idx.FullName())
		}
		if len(tup) != 2 || !bytes.Equal(tup[0], elem) {
			continue
		}
		key, err := decodeObjKey(tup[1])
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

func (r reader) lookupIndexed(prop *Property, v cell.Value) ([]ObjKey, error) {
	return r.indexKeys(prop.valueIndex, v.AppendKey(nil), func(row *rowData) bool {
		return cell.Equal(row.cols[prop.col].v, v)
	})
}

// linkOrigins lists the objects whose link property prop points at target.
func (r reader) linkOrigins(prop *Property, target ObjKey) ([]ObjKey, error) {
	return r.indexKeys(prop.linkIndex, appendObjKey(nil, target), func(row *rowData) bool {
		var found bool
		forEachLink(prop.Coll, row.cols[prop.col], func(k ObjKey) {
			found = found || k == target
		})
		return found
	})
}

// writer adds row mutations on top of a writable storage transaction.
type writer struct {
	reader
	onChange func(tbl *Table, key ObjKey, op Op)
}

func (w *writer) changed(tbl *Table, key ObjKey, op Op) {
	if w.onChange != nil {
		w.onChange(tbl, key, op)
	}
}

func (w *writer) newKey(tbl *Table) (ObjKey, error) {
	data, err := w.dataBucket(tbl)
	if err != nil {
		return 0, err
	}
	seq, err := data.NextSequence()
	return ObjKey(seq), err
}

// putRow writes a row and maintains its index entries. Unless reindex is
// set, writing identical contents is a no-op and reports false.
func (w *writer) putRow(tbl *Table, key ObjKey, row *rowData, reindex bool) (bool, error) {
	ts, err := w.state(tbl)
	if err != nil {
		return false, err
	}
	data, err := w.dataBucket(tbl)
	if err != nil {
		return false, err
	}
	keyRaw := appendObjKey(nil, key)
	plain := tbl.encodeRow(nil, row)

	var old value
	var oldPlain []byte
	exists := false
	if raw := data.Get(keyRaw); raw != nil {
		if err := old.decode(raw); err != nil {
			return false, err
		}
		oldPlain, err = w.open(keyRaw, old)
		if err != nil {
			return false, err
		}
		exists = true
	}
	changed := !exists || !bytes.Equal(oldPlain, plain)
	if !changed && !reindex {
		return false, nil
	}

	var indexRaw []byte
	if !ts.hasPendingIndices() {
		rows := buildIndexRows(ts, key, row)
		for _, ir := range rows {
			if !ir.Index.unique {
				continue
			}
			b := w.stx.Bucket(tbl.name, ir.Index.bucketName())
			if b == nil {
				return false, fmt.Errorf("%s: %w", ir.Index.FullName(), ErrBucketNotFound)
			}
			if v := b.Get(ir.KeyRaw); v != nil && !bytes.Equal(v, keyRaw) {
				return false, propErr(tbl, ir.Index.prop.Name, ErrDuplicatePrimaryKey)
			}
		}
		if exists {
			if err := findRemovedIndexKeys(old.Index, rows, indexEntryDeleter(w.stx, ts)); err != nil {
				return false, err
			}
		}
		for _, ir := range rows {
			b := w.stx.Bucket(tbl.name, ir.Index.bucketName())
			if err := b.Put(ir.KeyRaw, ir.ValueRaw); err != nil {
				return false, err
			}
		}
		indexRaw = appendIndexKeys(nil, rows)
	}

	vle := value{
		Flags:     vfDefault,
		SchemaVer: w.c.schemaVersion,
		ModCount:  old.ModCount,
		Data:      plain,
		Index:     indexRaw,
	}
	if changed {
		vle.ModCount++
	}
	if w.c.cipher != nil {
		vle.Flags |= vfEncrypted
		vle.Data = w.c.cipher.seal(nil, plain, keyRaw)
	}
	if err := data.Put(keyRaw, encodeValue(nil, vle)); err != nil {
		return false, err
	}
	if changed {
		w.changed(tbl, key, OpPut)
	}
	return changed, nil
}

// deleteRow removes a row with its index entries, then clears links to it
// from other rows.
func (w *writer) deleteRow(tbl *Table, key ObjKey) (bool, error) {
	ts, err := w.state(tbl)
	if err != nil {
		return false, err
	}
	data, err := w.dataBucket(tbl)
	if err != nil {
		return false, err
	}
	keyRaw := appendObjKey(nil, key)
	raw := data.Get(keyRaw)
	if raw == nil {
		return false, nil
	}
	var old value
	if err := old.decode(raw); err != nil {
		return false, err
	}
	if err := decodeIndexKeys(old.Index, indexEntryDeleter(w.stx, ts)); err != nil {
		return false, err
	}
	if err := data.Delete(keyRaw); err != nil {
		return false, err
	}
	w.changed(tbl, key, OpDelete)
	return true, w.unlink(tbl, key)
}

func (w *writer) unlink(target *Table, key ObjKey) error {
	for _, origin := range w.c.schema.tables {
		for _, prop := range origin.columns {
			if !prop.IsLink() || prop.target != target {
				continue
			}
			origins, err := w.linkOrigins(prop, key)
			if err != nil {
				return err
			}
			for _, ok := range origins {
				row, _, found, err := w.getRow(origin, ok)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				removeLinks(prop.Coll, &row.cols[prop.col], target.name, key)
				if _, err := w.putRow(origin, ok, row, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// removeLinks drops links to a deleted object: scalar links and dictionary
// values become null, list and set elements are removed.
func removeLinks(coll CollectionKind, c *column, table string, key ObjKey) {
	isTarget := func(v cell.Value) bool {
		l, err := v.AsLink()
		return err == nil && l.Table == table && ObjKey(l.Key) == key
	}
	switch coll {
	case CollNone:
		if isTarget(c.v) {
			c.v = cell.Null
		}
	case CollList, CollSet:
		c.items = slices.DeleteFunc(c.items, isTarget)
	case CollDictionary:
		for k, v := range c.dict {
			if isTarget(v) {
				c.dict[k] = cell.Null
			}
		}
	}
}

func (w *writer) deleteAll(tbl *Table) error {
	keys, err := w.keys(tbl)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := w.deleteRow(tbl, key); err != nil {
			return err
		}
	}
	return nil
}
