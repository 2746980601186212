package objdb

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andreyvit/objdb/cell"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// RowDump is the plain form of one row: scalars as Go values, links as
// "table/key" strings, lists and sets as slices, dictionaries as maps.
type RowDump struct {
	Key      ObjKey         `json:"key" yaml:"key"`
	ModCount uint64         `json:"mod" yaml:"mod"`
	Values   map[string]any `json:"values" yaml:"values"`
}

// Dump renders the contents of the instance for debugging.
func (db *DB) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	err := db.withReader(func(r reader) error {
		for _, tbl := range db.schema.Tables() {
			if err := r.dumpTable(&buf, f, tbl); err != nil {
				return err
			}
		}
		return nil
	})
	return buf.String(), err
}

// DumpRows returns every row of the named table in key order.
func (db *DB) DumpRows(table string) ([]RowDump, error) {
	tbl, err := db.table(table)
	if err != nil {
		return nil, err
	}
	var out []RowDump
	err = db.withReader(func(r reader) error {
		out, err = r.dumpRows(tbl)
		return err
	})
	return out, err
}

func (r reader) dumpRows(tbl *Table) ([]RowDump, error) {
	keys, err := r.keys(tbl)
	if err != nil {
		return nil, err
	}
	out := make([]RowDump, 0, len(keys))
	for _, key := range keys {
		row, meta, found, err := r.getRow(tbl, key)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, RowDump{Key: key, ModCount: meta.ModCount, Values: plainRow(tbl, row)})
		}
	}
	return out, nil
}

func (r reader) dumpTable(w *strings.Builder, f DumpFlags, tbl *Table) error {
	prefix := tbl.name
	s, err := r.tableStats(tbl)
	if err != nil {
		return err
	}
	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", prefix, s.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, s.IndexRows, s.DataSize, s.DataAlloc, s.IndexSize, s.IndexAlloc, s.TotalAlloc())
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		rows, err := r.dumpRows(tbl)
		if err != nil {
			return err
		}
		for _, rd := range rows {
			fmt.Fprintf(w, "%s.%d = (m%d) %s\n", prefix, rd.Key, rd.ModCount, must(json.Marshal(rd.Values)))
		}
	}
	if f.Contains(DumpIndices) {
		ts, err := r.state(tbl)
		if err != nil {
			return err
		}
		for _, idx := range tbl.indices {
			r.dumpIndex(w, prefix, f, idx, ts)
		}
	}
	return nil
}

func (r reader) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, idx *Index, ts *tableState) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + idx.name
	pending := ""
	if !ts.indexBuilt(idx) {
		pending = " PENDING"
	}
	fmt.Fprintf(w, "%s (0x%x)%s\n", prefix, ts.indexOrdinal(idx), pending)

	if !f.Contains(DumpIndexRows) {
		return
	}
	b := r.stx.Bucket(idx.table.name, idx.bucketName())
	if b == nil {
		return
	}
	c := b.Cursor()
	var rowPos int
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rowPos++
		tup, err := decodeTuple(k)
		if err != nil {
			fmt.Fprintf(w, "%s.%d: ** ERROR: %v\n", prefix, rowPos, err)
			continue
		}
		fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, rowPos, tup, hex.EncodeToString(v))
	}
}

func plainRow(tbl *Table, row *rowData) map[string]any {
	out := make(map[string]any, len(tbl.columns))
	for _, prop := range tbl.columns {
		c := row.cols[prop.col]
		switch prop.Coll {
		case CollNone:
			out[prop.Name] = plainValue(c.v)
		case CollList, CollSet:
			items := make([]any, len(c.items))
			for i, v := range c.items {
				items[i] = plainValue(v)
			}
			out[prop.Name] = items
		case CollDictionary:
			m := make(map[string]any, len(c.dict))
			for k, v := range c.dict {
				m[k] = plainValue(v)
			}
			out[prop.Name] = m
		}
	}
	return out
}

func plainValue(v cell.Value) any {
	switch v.Kind() {
	case cell.KindDecimal, cell.KindObjectID, cell.KindUUID, cell.KindLink:
		return v.String()
	}
	return v.Interface()
}
