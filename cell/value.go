// Package cell implements the tagged value used to move property data
// between typed accessors and storage.
//
// A Value holds exactly one of the supported kinds. Values are immutable;
// constructors copy mutable inputs (byte slices, decimals).
package cell

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDouble
	KindString
	KindBinary
	KindTimestamp
	KindDecimal
	KindObjectID
	KindUUID
	KindLink

	maxKind = KindLink
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindInt:       "int",
	KindFloat:     "float",
	KindDouble:    "double",
	KindString:    "string",
	KindBinary:    "binary",
	KindTimestamp: "timestamp",
	KindDecimal:   "decimal",
	KindObjectID:  "objectid",
	KindUUID:      "uuid",
	KindLink:      "link",
}

func (k Kind) String() string {
	if k <= maxKind {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// IsNumeric reports whether values of this kind compare numerically with each other.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindDouble
}

// Link identifies an object in another table.
type Link struct {
	Table string
	Key   uint64
}

func (l Link) String() string {
	return l.Table + "/" + strconv.FormatUint(l.Key, 10)
}

type Value struct {
	kind Kind
	num  uint64
	str  string
	raw  [16]byte
	t    time.Time
	dec  *apd.Decimal
}

var Null = Value{}

func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func IntValue(n int64) Value {
	return Value{kind: KindInt, num: uint64(n)}
}

func FloatValue(f float32) Value {
	return Value{kind: KindFloat, num: uint64(math.Float32bits(f))}
}

func DoubleValue(f float64) Value {
	return Value{kind: KindDouble, num: math.Float64bits(f)}
}

func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// BinaryValue copies b. A nil slice produces an empty binary, not null.
func BinaryValue(b []byte) Value {
	return Value{kind: KindBinary, str: string(b)}
}

// TimestampValue stores t in UTC without its monotonic reading.
func TimestampValue(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC().Round(0)}
}

func DecimalValue(d *apd.Decimal) Value {
	c := new(apd.Decimal)
	c.Set(d)
	return Value{kind: KindDecimal, dec: c}
}

// ParseDecimalValue parses a decimal literal such as "12.50".
func ParseDecimalValue(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Null, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Value{kind: KindDecimal, dec: d}, nil
}

func ObjectIDValue(id ObjectID) Value {
	v := Value{kind: KindObjectID}
	copy(v.raw[:], id[:])
	return v
}

func UUIDValue(id uuid.UUID) Value {
	return Value{kind: KindUUID, raw: id}
}

func LinkValue(table string, key uint64) Value {
	return Value{kind: KindLink, str: table, num: key}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, mismatch(KindBool, v.kind)
	}
	return v.num != 0, nil
}

func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, mismatch(KindInt, v.kind)
	}
	return int64(v.num), nil
}

func (v Value) AsFloat() (float32, error) {
	if v.kind != KindFloat {
		return 0, mismatch(KindFloat, v.kind)
	}
	return math.Float32frombits(uint32(v.num)), nil
}

// AsDouble also accepts float values, widening them.
func (v Value) AsDouble() (float64, error) {
	switch v.kind {
	case KindDouble:
		return math.Float64frombits(v.num), nil
	case KindFloat:
		return float64(math.Float32frombits(uint32(v.num))), nil
	default:
		return 0, mismatch(KindDouble, v.kind)
	}
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", mismatch(KindString, v.kind)
	}
	return v.str, nil
}

// AsBinary returns a fresh copy of the bytes.
func (v Value) AsBinary() ([]byte, error) {
	if v.kind != KindBinary {
		return nil, mismatch(KindBinary, v.kind)
	}
	return []byte(v.str), nil
}

func (v Value) AsTimestamp() (time.Time, error) {
	if v.kind != KindTimestamp {
		return time.Time{}, mismatch(KindTimestamp, v.kind)
	}
	return v.t, nil
}

// AsDecimal returns a copy; int values convert exactly.
func (v Value) AsDecimal() (*apd.Decimal, error) {
	switch v.kind {
	case KindDecimal:
		d := new(apd.Decimal)
		d.Set(v.dec)
		return d, nil
	case KindInt:
		return apd.New(int64(v.num), 0), nil
	default:
		return nil, mismatch(KindDecimal, v.kind)
	}
}

func (v Value) AsObjectID() (ObjectID, error) {
	var id ObjectID
	if v.kind != KindObjectID {
		return id, mismatch(KindObjectID, v.kind)
	}
	copy(id[:], v.raw[:len(id)])
	return id, nil
}

func (v Value) AsUUID() (uuid.UUID, error) {
	if v.kind != KindUUID {
		return uuid.Nil, mismatch(KindUUID, v.kind)
	}
	return uuid.UUID(v.raw), nil
}

func (v Value) AsLink() (Link, error) {
	if v.kind != KindLink {
		return Link{}, mismatch(KindLink, v.kind)
	}
	return Link{Table: v.str, Key: v.num}, nil
}

// Interface returns the natural Go representation: nil, bool, int64, float32,
// float64, string, []byte, time.Time, *apd.Decimal, ObjectID, uuid.UUID or Link.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.num != 0
	case KindInt:
		return int64(v.num)
	case KindFloat:
		return math.Float32frombits(uint32(v.num))
	case KindDouble:
		return math.Float64frombits(v.num)
	case KindString:
		return v.str
	case KindBinary:
		return []byte(v.str)
	case KindTimestamp:
		return v.t
	case KindDecimal:
		d, _ := v.AsDecimal()
		return d
	case KindObjectID:
		id, _ := v.AsObjectID()
		return id
	case KindUUID:
		return uuid.UUID(v.raw)
	case KindLink:
		return Link{Table: v.str, Key: v.num}
	default:
		panic(fmt.Errorf("invalid cell kind %d", v.kind))
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindInt:
		return strconv.FormatInt(int64(v.num), 10)
	case KindFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v.num))), 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBinary:
		return "0x" + hex.EncodeToString([]byte(v.str))
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case KindDecimal:
		return v.dec.String()
	case KindObjectID:
		id, _ := v.AsObjectID()
		return id.String()
	case KindUUID:
		return uuid.UUID(v.raw).String()
	case KindLink:
		return Link{Table: v.str, Key: v.num}.String()
	default:
		return fmt.Sprintf("<invalid kind %d>", v.kind)
	}
}

// Equal reports whether a and b have the same kind and payload. Floating
// point payloads are compared bitwise, decimals numerically.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool, KindInt, KindFloat, KindDouble:
		return a.num == b.num
	case KindString, KindBinary:
		return a.str == b.str
	case KindTimestamp:
		return a.t.Equal(b.t)
	case KindDecimal:
		return a.dec.Cmp(b.dec) == 0
	case KindObjectID, KindUUID:
		return a.raw == b.raw
	case KindLink:
		return a.str == b.str && a.num == b.num
	default:
		return false
	}
}

// Compare orders values for sorting. Null sorts first. Int, float and double
// compare numerically with each other; otherwise values of different kinds
// order by kind.
func Compare(a, b Value) int {
	if a.kind.IsNumeric() && b.kind.IsNumeric() && a.kind != b.kind {
		af, _ := a.numeric()
		bf, _ := b.numeric()
		return cmpFloat(af, bf)
	}
	if a.kind != b.kind {
		return cmpOrdered(a.kind, b.kind)
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		return cmpOrdered(a.num, b.num)
	case KindInt:
		return cmpOrdered(int64(a.num), int64(b.num))
	case KindFloat, KindDouble:
		af, _ := a.numeric()
		bf, _ := b.numeric()
		return cmpFloat(af, bf)
	case KindString, KindBinary:
		return cmpOrdered(a.str, b.str)
	case KindTimestamp:
		return a.t.Compare(b.t)
	case KindDecimal:
		return a.dec.Cmp(b.dec)
	case KindObjectID, KindUUID:
		return bytes.Compare(a.raw[:], b.raw[:])
	case KindLink:
		if c := cmpOrdered(a.str, b.str); c != 0 {
			return c
		}
		return cmpOrdered(a.num, b.num)
	default:
		return 0
	}
}

func (v Value) numeric() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(int64(v.num)), true
	case KindFloat:
		return float64(math.Float32frombits(uint32(v.num))), true
	case KindDouble:
		return math.Float64frombits(v.num), true
	default:
		return 0, false
	}
}

// NaN sorts before every other number.
func cmpFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	return cmpOrdered(a, b)
}

func cmpOrdered[T int64 | uint64 | float64 | string | Kind](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
