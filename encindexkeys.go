package objdb

import (
	"bytes"
	"encoding/binary"
)

// appendIndexKeys records the index entries of a row inside its stored
// value, so that an update can find and remove stale entries without
// decoding the previous row.
func appendIndexKeys(buf []byte, rows indexRows) []byte {
	var total = binary.MaxVarintLen32 + len(rows)*(binary.MaxVarintLen32+binary.MaxVarintLen32)
	for _, row := range rows {
		total += len(row.KeyRaw)
	}

	w := prealloc(buf, total)
	w.AppendUvarinti(len(rows))
	for _, row := range rows {
		w.AppendUvarint(row.IndexOrd)
		w.AppendVarBytes(row.KeyRaw)
	}
	return w.Trimmed()
}

func decodeIndexKeys(data []byte, f func(ord uint64, key []byte) error) error {
	if len(data) == 0 {
		return nil
	}
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ord, err := d.Uvarint()
		if err != nil {
			return err
		}
		key, err := d.VarBytes()
		if err != nil {
			return err
		}
		if err := f(ord, key); err != nil {
			return err
		}
	}
	return nil
}

type indexDiffer struct {
	newRows indexRows
}

func (d *indexDiffer) checkOldKey(oldOrd uint64, oldKey []byte) bool {
	// Look for a new row that's >= old row.
	for len(d.newRows) > 0 {
		newOrd := d.newRows[0].IndexOrd
		if oldOrd < newOrd {
			return false
		} else if oldOrd == newOrd {
			c := bytes.Compare(oldKey, d.newRows[0].KeyRaw)
			if c < 0 {
				return false
			} else if c == 0 {
				return true
			}
		}
		d.newRows = d.newRows[1:]
	}
	return false
}

// findRemovedIndexKeys calls removed for every old entry missing from
// newRows. Both sequences are sorted by (ordinal, key).
func findRemovedIndexKeys(oldData []byte, newRows indexRows, removed func(ord uint64, key []byte) error) error {
	d := indexDiffer{newRows}
	return decodeIndexKeys(oldData, func(ord uint64, key []byte) error {
		if !d.checkOldKey(ord, key) {
			return removed(ord, key)
		}
		return nil
	})
}

func indexEntryDeleter(stx storageTx, ts *tableState) func(ord uint64, key []byte) error {
	var idxOrd uint64
	var idxBuck storageBucket

	return func(ord uint64, key []byte) error {
		if idxOrd != ord {
			idxOrd = ord
			if idx := ts.indexByOrdinal(ord); idx != nil {
				idxBuck = stx.Bucket(ts.table.name, idx.bucketName())
			} else {
				idxBuck = nil
			}
		}
		if idxBuck == nil {
			// dropped index, nothing to clean up
			return nil
		}
		return idxBuck.Delete(key)
	}
}
