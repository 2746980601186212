package objdb

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/andreyvit/objdb/cell"
	"github.com/vmihailenco/msgpack/v5"
)

func encodeMsgpack(buf []byte, v any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return bb.Buf
}

func decodeMsgpack(buf []byte, v any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// column is the stored content of one persisted property. Exactly one of
// the fields is meaningful, depending on the property's collection kind.
type column struct {
	v     cell.Value
	items []cell.Value
	dict  map[string]cell.Value
}

func (c column) clone() column {
	return column{v: c.v, items: slices.Clone(c.items), dict: cloneDict(c.dict)}
}

func cloneDict(m map[string]cell.Value) map[string]cell.Value {
	if m == nil {
		return nil
	}
	out := make(map[string]cell.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// rowData holds the columns of one row, ordered like Table.columns.
type rowData struct {
	cols []column
}

func (row *rowData) clone() *rowData {
	out := &rowData{cols: make([]column, len(row.cols))}
	for i, c := range row.cols {
		out.cols[i] = c.clone()
	}
	return out
}

// newRowData returns a row with every column set to its default.
func (tbl *Table) newRowData() *rowData {
	row := &rowData{cols: make([]column, len(tbl.columns))}
	for i, prop := range tbl.columns {
		row.cols[i] = prop.defaultColumn()
	}
	return row
}

// encodeRow writes the row as a msgpack array with one entry per column:
// a cell, an array of cells, or a map of cells with sorted keys.
func (tbl *Table) encodeRow(buf []byte, row *rowData) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := tbl.encodeColumns(enc, row)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("%s: failed to encode row: %w", tbl.name, err))
	}
	return bb.Buf
}

func (tbl *Table) encodeColumns(enc *msgpack.Encoder, row *rowData) error {
	if err := enc.EncodeArrayLen(len(tbl.columns)); err != nil {
		return err
	}
	for i, prop := range tbl.columns {
		if err := encodeColumn(enc, prop.Coll, row.cols[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeColumn(enc *msgpack.Encoder, coll CollectionKind, c column) error {
	switch coll {
	case CollNone:
		return enc.Encode(c.v)
	case CollList, CollSet:
		if err := enc.EncodeArrayLen(len(c.items)); err != nil {
			return err
		}
		for _, v := range c.items {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	case CollDictionary:
		if err := enc.EncodeMapLen(len(c.dict)); err != nil {
			return err
		}
		for _, k := range sortedKeys(c.dict) {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := enc.Encode(c.dict[k]); err != nil {
				return err
			}
		}
		return nil
	default:
		panic(fmt.Errorf("unexpected collection kind %v", coll))
	}
}

// columnBytes encodes a single column; object notifications hash these.
func columnBytes(buf []byte, coll CollectionKind, c column) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := encodeColumn(enc, coll, c)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode column: %w", err))
	}
	return bb.Buf
}

func (tbl *Table) decodeRow(data []byte) (*rowData, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	defer msgpack.PutDecoder(dec)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, dataErrf(data, 0, err, "%s: invalid row", tbl.name)
	}
	row := tbl.newRowData()
	for i := 0; i < n; i++ {
		if i >= len(tbl.columns) {
			if err := dec.Skip(); err != nil {
				return nil, dataErrf(data, 0, err, "%s: invalid row", tbl.name)
			}
			continue
		}
		prop := tbl.columns[i]
		c, err := decodeColumn(dec, prop.Coll)
		if err != nil {
			return nil, dataErrf(data, 0, err, "%s.%s: invalid column", tbl.name, prop.Name)
		}
		row.cols[i] = c
	}
	return row, nil
}

func decodeColumn(dec *msgpack.Decoder, coll CollectionKind) (column, error) {
	var c column
	switch coll {
	case CollNone:
		err := dec.Decode(&c.v)
		return c, err
	case CollList, CollSet:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return c, err
		}
		if n > 0 {
			c.items = make([]cell.Value, n)
		}
		for i := range c.items {
			if err := dec.Decode(&c.items[i]); err != nil {
				return c, err
			}
		}
		return c, nil
	case CollDictionary:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return c, err
		}
		c.dict = make(map[string]cell.Value, max(n, 0))
		for i := 0; i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return c, err
			}
			var v cell.Value
			if err := dec.Decode(&v); err != nil {
				return c, err
			}
			c.dict[k] = v
		}
		return c, nil
	default:
		panic(fmt.Errorf("unexpected collection kind %v", coll))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
