package objdb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// tuple is a multi-part index key.
//
// Encoding: el1 el2 ... elN len1 ... lenN-1 N, where the lengths are
// byte-reversed uvarints read from the end. Element data comes first, so the
// encoding of a tuple starts with the raw bytes of its first element, which
// is what prefix scans over an index rely on.
type tuple [][]byte

func (tup tuple) String() string {
	var buf strings.Builder
	for i, el := range tup {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(hex.EncodeToString(el))
	}
	return buf.String()
}

func (tup tuple) Equal(another tuple) bool {
	if len(another) != len(tup) {
		return false
	}
	for i, b := range tup {
		if !bytes.Equal(b, another[i]) {
			return false
		}
	}
	return true
}

func (tup tuple) encode(buf []byte) []byte {
	for _, el := range tup {
		buf = appendRaw(buf, el)
	}
	for _, el := range tup[:max(len(tup)-1, 0)] {
		buf = appendRuvarint(buf, uint32(len(el)))
	}
	return appendRuvarint(buf, uint32(len(tup)))
}

func decodeTuple(raw []byte) (tuple, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c, raw, err := decodeRuvarint(raw)
	if err != nil {
		return nil, err
	}
	if c == 0 {
		return nil, nil
	}

	lens := make([]uint32, c)
	for i := int(c) - 2; i >= 0; i-- {
		if len(raw) == 0 {
			return nil, fmt.Errorf("invalid tuple: truncated lengths")
		}
		lens[i], raw, err = decodeRuvarint(raw)
		if err != nil {
			return nil, err
		}
	}

	var explicit uint64
	for _, n := range lens[:c-1] {
		explicit += uint64(n)
	}
	if explicit > uint64(len(raw)) {
		return nil, fmt.Errorf("invalid tuple: sum of explicit lens %d is greater than total data len %d", explicit, len(raw))
	}
	lens[c-1] = uint32(uint64(len(raw)) - explicit)

	tup := make(tuple, c)
	var off uint32
	for i, n := range lens {
		tup[i] = raw[off : off+n]
		off += n
	}
	return tup, nil
}

// appendRuvarint appends a byte-reversed uvarint, for right-to-left reading.
func appendRuvarint(buf []byte, v uint32) []byte {
	var vb [binary.MaxVarintLen32]byte
	vn := binary.PutUvarint(vb[:], uint64(v))
	off, buf := grow(buf, vn)
	for i, b := range vb[:vn] {
		buf[off+vn-i-1] = b
	}
	return buf
}

func decodeRuvarint(buf []byte) (uint32, []byte, error) {
	var vb [binary.MaxVarintLen32]byte
	n := len(buf)
	c := min(n, binary.MaxVarintLen32)
	for i := 0; i < c; i++ {
		vb[i] = buf[n-i-1]
	}
	v, vn := binary.Uvarint(vb[:c])
	if vn <= 0 || v > 0xFFFFFFFF {
		return 0, nil, fmt.Errorf("invalid ruvarint in %x", buf)
	}
	return uint32(v), buf[:n-vn], nil
}
