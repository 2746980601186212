package objdb

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/andreyvit/objdb/cell"
)

type indexKind uint8

const (
	// indexPrimary maps a primary key cell to the object key. Unique.
	indexPrimary indexKind = iota + 1

	// indexValue holds (cell, object key) pairs of an Indexed property.
	indexValue

	// indexLink holds (target key, origin key) pairs of a link property;
	// backlinks and delete cascades read it.
	indexLink
)

func (k indexKind) String() string {
	switch k {
	case indexPrimary:
		return "primary"
	case indexValue:
		return "value"
	case indexLink:
		return "link"
	default:
		return fmt.Sprintf("indexKind(%d)", int(k))
	}
}

type Index struct {
	table  *Table
	name   string
	kind   indexKind
	unique bool
	prop   *Property
	pos    int
}

func (idx *Index) Name() string        { return idx.name }
func (idx *Index) Table() *Table       { return idx.table }
func (idx *Index) Property() *Property { return idx.prop }
func (idx *Index) IsUnique() bool      { return idx.unique }

func (idx *Index) FullName() string {
	return idx.table.name + "." + idx.name
}

func (idx *Index) String() string {
	return fmt.Sprintf("%s(%s %s)", idx.FullName(), idx.kind, idx.prop.Name)
}

func (idx *Index) bucketName() string {
	return indexBucketPrefix + idx.name
}

const (
	dataBucketName    = "data"
	indexBucketPrefix = "i:"
)

var emptyIndexValue = []byte{}

// IndexRow is one entry a row contributes to one of its table's indices.
type IndexRow struct {
	IndexOrd uint64
	Index    *Index
	KeyRaw   []byte
	ValueRaw []byte
}

type indexRows []IndexRow

func compareIndexRows(a, b IndexRow) int {
	if a.IndexOrd != b.IndexOrd {
		if a.IndexOrd < b.IndexOrd {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.KeyRaw, b.KeyRaw)
}

// buildIndexRows computes the index entries of a row, sorted by index
// ordinal and key, without duplicates.
func buildIndexRows(ts *tableState, key ObjKey, row *rowData) indexRows {
	tbl := ts.table
	keyRaw := appendObjKey(nil, key)
	var rows indexRows
	for _, idx := range tbl.indices {
		ord := ts.indexOrdinal(idx)
		c := row.cols[idx.prop.col]
		switch idx.kind {
		case indexPrimary:
			rows = append(rows, IndexRow{
				IndexOrd: ord,
				Index:    idx,
				KeyRaw:   tuple{c.v.AppendKey(nil)}.encode(nil),
				ValueRaw: keyRaw,
			})
		case indexValue:
			rows = append(rows, IndexRow{
				IndexOrd: ord,
				Index:    idx,
				KeyRaw:   tuple{c.v.AppendKey(nil), keyRaw}.encode(nil),
				ValueRaw: emptyIndexValue,
			})
		case indexLink:
			forEachLink(idx.prop.Coll, c, func(target ObjKey) {
				rows = append(rows, IndexRow{
					IndexOrd: ord,
					Index:    idx,
					KeyRaw:   tuple{appendObjKey(nil, target), keyRaw}.encode(nil),
					ValueRaw: emptyIndexValue,
				})
			})
		}
	}
	slices.SortFunc(rows, compareIndexRows)
	return slices.CompactFunc(rows, func(a, b IndexRow) bool {
		return compareIndexRows(a, b) == 0
	})
}

// forEachLink calls f with the key of every non-null link in a column.
func forEachLink(coll CollectionKind, c column, f func(target ObjKey)) {
	visit := func(v cell.Value) {
		if l, err := v.AsLink(); err == nil {
			f(ObjKey(l.Key))
		}
	}
	switch coll {
	case CollNone:
		visit(c.v)
	case CollList, CollSet:
		for _, v := range c.items {
			visit(v)
		}
	case CollDictionary:
		for _, v := range c.dict {
			visit(v)
		}
	}
}
