package cell

import (
	"fmt"
	"math"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

// EncodeMsgpack writes null as msgpack nil and everything else as a
// [kind, payload] array; links use [kind, table, key].
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if v.kind == KindNull {
		return enc.EncodeNil()
	}
	n := 2
	if v.kind == KindLink {
		n = 3
	}
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case KindBool:
		return enc.EncodeBool(v.num != 0)
	case KindInt:
		return enc.EncodeInt(int64(v.num))
	case KindFloat:
		return enc.EncodeFloat32(math.Float32frombits(uint32(v.num)))
	case KindDouble:
		return enc.EncodeFloat64(math.Float64frombits(v.num))
	case KindString:
		return enc.EncodeString(v.str)
	case KindBinary:
		return enc.EncodeBytes([]byte(v.str))
	case KindTimestamp:
		return enc.EncodeTime(v.t)
	case KindDecimal:
		return enc.EncodeString(v.dec.Text('E'))
	case KindObjectID:
		return enc.EncodeBytes(v.raw[:12])
	case KindUUID:
		return enc.EncodeBytes(v.raw[:])
	case KindLink:
		if err := enc.EncodeString(v.str); err != nil {
			return err
		}
		return enc.EncodeUint(v.num)
	default:
		return fmt.Errorf("cannot encode cell of kind %d", v.kind)
	}
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if code == msgpcode.Nil {
		*v = Null
		return dec.DecodeNil()
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 2 {
		return fmt.Errorf("invalid cell: array of %d elements", n)
	}
	k, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	kind := Kind(k)
	if kind == KindNull || kind > maxKind {
		return fmt.Errorf("invalid cell kind %d", k)
	}
	if (kind == KindLink) != (n == 3) || n > 3 {
		return fmt.Errorf("invalid cell: %v with %d elements", kind, n)
	}

	switch kind {
	case KindBool:
		b, err := dec.DecodeBool()
		*v = BoolValue(b)
		return err
	case KindInt:
		i, err := dec.DecodeInt64()
		*v = IntValue(i)
		return err
	case KindFloat:
		f, err := dec.DecodeFloat32()
		*v = FloatValue(f)
		return err
	case KindDouble:
		f, err := dec.DecodeFloat64()
		*v = DoubleValue(f)
		return err
	case KindString:
		s, err := dec.DecodeString()
		*v = StringValue(s)
		return err
	case KindBinary:
		b, err := dec.DecodeBytes()
		*v = Value{kind: KindBinary, str: string(b)}
		return err
	case KindTimestamp:
		t, err := dec.DecodeTime()
		*v = TimestampValue(t)
		return err
	case KindDecimal:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		d, _, err := apd.NewFromString(s)
		if err != nil {
			return fmt.Errorf("invalid decimal cell %q: %w", s, err)
		}
		*v = Value{kind: KindDecimal, dec: d}
		return nil
	case KindObjectID:
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		var id ObjectID
		if len(b) != len(id) {
			return fmt.Errorf("invalid objectid cell: %d bytes", len(b))
		}
		copy(id[:], b)
		*v = ObjectIDValue(id)
		return nil
	case KindUUID:
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		id, err := uuid.FromBytes(b)
		if err != nil {
			return fmt.Errorf("invalid uuid cell: %w", err)
		}
		*v = UUIDValue(id)
		return nil
	case KindLink:
		table, err := dec.DecodeString()
		if err != nil {
			return err
		}
		key, err := dec.DecodeUint64()
		if err != nil {
			return err
		}
		*v = LinkValue(table, key)
		return nil
	}
	return fmt.Errorf("invalid cell kind %d", k)
}
