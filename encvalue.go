package objdb

import (
	"encoding/binary"
	"fmt"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3
	vfEncryptedBit

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfEncrypted     = vfEncryptedBit
	vfSupportedMask = (vfVer1 | vfEncrypted)
	vfDefault       = vfVer1

	minValueSize       = 5
	maxValueHeaderSize = binary.MaxVarintLen64 * 5
	maxSchemaVersion   = 1 << 40
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// value is a stored row: header, row data (possibly sealed), index key records.
//
// Header: flags, schema version, modification count, data size, index size;
// all uvarints. ModCount starts at 1 and increases on every write that
// changes the data, which is what change notifications compare.
type value struct {
	Flags     valueFlags
	SchemaVer uint64
	ModCount  uint64
	Data      []byte
	Index     []byte
}

// ValueMeta is the part of a row header that is meaningful outside storage.
type ValueMeta struct {
	SchemaVer uint64
	ModCount  uint64
}

func (vle value) ValueMeta() ValueMeta {
	return ValueMeta{SchemaVer: vle.SchemaVer, ModCount: vle.ModCount}
}

func encodeValue(buf []byte, vle value) []byte {
	if (vle.Flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", vle.Flags))
	}
	w := prealloc(buf, maxValueHeaderSize+len(vle.Data)+len(vle.Index))
	w.AppendUvarint(uint64(vle.Flags))
	w.AppendUvarint(vle.SchemaVer)
	w.AppendUvarint(vle.ModCount)
	w.AppendUvarinti(len(vle.Data))
	w.AppendUvarinti(len(vle.Index))
	w.AppendRaw(vle.Data)
	w.AppendRaw(vle.Index)
	return w.Trimmed()
}

func (vle *value) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)

	v, err := d.Uvarint()
	if err != nil {
		return err
	}
	if (v &^ uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, d.Off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)

	vle.SchemaVer, err = d.Uvarint()
	if err != nil {
		return err
	}
	if vle.SchemaVer > maxSchemaVersion {
		return dataErrf(data, d.Off(), nil, "invalid value: bad schema version")
	}

	vle.ModCount, err = d.Uvarint()
	if err != nil {
		return err
	}

	dataSize, err := d.Uvarinti()
	if err != nil {
		return err
	}
	indexSize, err := d.Uvarinti()
	if err != nil {
		return err
	}
	if len(d.Buf) != dataSize+indexSize {
		return dataErrf(data, d.Off(), nil, "invalid value: got %d bytes for data+index, expected %d bytes", len(d.Buf), dataSize+indexSize)
	}
	vle.Data = d.Buf[:dataSize]
	vle.Index = d.Buf[dataSize:]
	return nil
}
