package cell

import (
	"encoding/binary"

	"github.com/cockroachdb/apd/v3"
)

// Key returns a canonical identity for v: two values have the same key
// exactly when Equal reports true.
func (v Value) Key() string {
	return string(v.AppendKey(nil))
}

// AppendKey appends the canonical identity bytes of v to buf. Integers and
// timestamps are encoded so that byte order matches value order.
func (v Value) AppendKey(buf []byte) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBool:
		buf = append(buf, byte(v.num))
	case KindInt:
		buf = binary.BigEndian.AppendUint64(buf, v.num^(1<<63))
	case KindFloat:
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.num))
	case KindDouble:
		buf = binary.BigEndian.AppendUint64(buf, v.num)
	case KindString, KindBinary:
		buf = append(buf, v.str...)
	case KindTimestamp:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.t.Unix())^(1<<63))
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.t.Nanosecond()))
	case KindDecimal:
		var d apd.Decimal
		d.Reduce(v.dec)
		if d.IsZero() {
			d.SetInt64(0)
		}
		buf = append(buf, d.Text('E')...)
	case KindObjectID:
		buf = append(buf, v.raw[:12]...)
	case KindUUID:
		buf = append(buf, v.raw[:]...)
	case KindLink:
		buf = binary.BigEndian.AppendUint64(buf, v.num)
		buf = append(buf, v.str...)
	}
	return buf
}
