package cell

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	timeType     = reflect.TypeFor[time.Time]()
	decimalType  = reflect.TypeFor[apd.Decimal]()
	objectIDType = reflect.TypeFor[ObjectID]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
	bytesType    = reflect.TypeFor[[]byte]()
	linkType     = reflect.TypeFor[Link]()
	valueType    = reflect.TypeFor[Value]()
)

// Of converts a Go value into a cell. Nil pointers become Null, non-nil
// pointers are dereferenced.
func Of(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Null, nil
	case Value:
		return v, nil
	case bool:
		return BoolValue(v), nil
	case int:
		return IntValue(int64(v)), nil
	case int64:
		return IntValue(v), nil
	case int32:
		return IntValue(int64(v)), nil
	case float32:
		return FloatValue(v), nil
	case float64:
		return DoubleValue(v), nil
	case string:
		return StringValue(v), nil
	case []byte:
		return BinaryValue(v), nil
	case time.Time:
		return TimestampValue(v), nil
	case *apd.Decimal:
		if v == nil {
			return Null, nil
		}
		return DecimalValue(v), nil
	case ObjectID:
		return ObjectIDValue(v), nil
	case primitive.ObjectID:
		return ObjectIDValue(ObjectID(v)), nil
	case uuid.UUID:
		return UUIDValue(v), nil
	case Link:
		return LinkValue(v.Table, v.Key), nil
	}
	return ofReflect(reflect.ValueOf(v))
}

func ofReflect(rv reflect.Value) (Value, error) {
	switch rv.Type() {
	case timeType:
		return TimestampValue(rv.Interface().(time.Time)), nil
	case decimalType:
		d := rv.Interface().(apd.Decimal)
		return DecimalValue(&d), nil
	case objectIDType:
		return ObjectIDValue(rv.Interface().(ObjectID)), nil
	case uuidType:
		return UUIDValue(rv.Interface().(uuid.UUID)), nil
	case linkType:
		l := rv.Interface().(Link)
		return LinkValue(l.Table, l.Key), nil
	case valueType:
		return rv.Interface().(Value), nil
	}
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null, nil
		}
		return ofReflect(rv.Elem())
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int()), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return IntValue(int64(rv.Uint())), nil
	case reflect.Float32:
		return FloatValue(float32(rv.Float())), nil
	case reflect.Float64:
		return DoubleValue(rv.Float()), nil
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return BinaryValue(rv.Bytes()), nil
		}
	}
	return Null, fmt.Errorf("%w: %v cannot be stored in a cell", ErrTypeMismatch, rv.Type())
}

// To converts a cell into T, applying the documented conversions only:
// integer width narrowing with an overflow check, float to double widening,
// int to decimal, and null to a nil pointer.
func To[T any](v Value) (T, error) {
	var out T
	err := Assign(&out, v)
	return out, err
}

// Assign stores v into the variable dst points to.
func Assign(dst any, v Value) error {
	switch dst := dst.(type) {
	case *Value:
		*dst = v
		return nil
	case *bool:
		b, err := v.AsBool()
		*dst = b
		return err
	case *int64:
		n, err := v.AsInt()
		*dst = n
		return err
	case *string:
		s, err := v.AsString()
		*dst = s
		return err
	case *float64:
		f, err := v.AsDouble()
		*dst = f
		return err
	case *any:
		*dst = v.Interface()
		return nil
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		panic(fmt.Errorf("cell.Assign: destination must be a non-nil pointer, got %T", dst))
	}
	return assignReflect(rv.Elem(), v)
}

func assignReflect(dv reflect.Value, v Value) error {
	switch dv.Type() {
	case timeType:
		t, err := v.AsTimestamp()
		if err == nil {
			dv.Set(reflect.ValueOf(t))
		}
		return err
	case decimalType:
		d, err := v.AsDecimal()
		if err == nil {
			dv.Set(reflect.ValueOf(*d))
		}
		return err
	case objectIDType:
		id, err := v.AsObjectID()
		if err == nil {
			dv.Set(reflect.ValueOf(id))
		}
		return err
	case uuidType:
		id, err := v.AsUUID()
		if err == nil {
			dv.Set(reflect.ValueOf(id))
		}
		return err
	case linkType:
		l, err := v.AsLink()
		if err == nil {
			dv.Set(reflect.ValueOf(l))
		}
		return err
	case bytesType:
		b, err := v.AsBinary()
		if err == nil {
			dv.SetBytes(b)
		}
		return err
	case valueType:
		dv.Set(reflect.ValueOf(v))
		return nil
	}

	switch dv.Kind() {
	case reflect.Pointer:
		if v.IsNull() {
			dv.SetZero()
			return nil
		}
		if dv.Type().Elem() == decimalType {
			d, err := v.AsDecimal()
			if err == nil {
				dv.Set(reflect.ValueOf(d))
			}
			return err
		}
		p := reflect.New(dv.Type().Elem())
		if err := assignReflect(p.Elem(), v); err != nil {
			return err
		}
		dv.Set(p)
		return nil
	case reflect.Bool:
		b, err := v.AsBool()
		if err == nil {
			dv.SetBool(b)
		}
		return err
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		if dv.OverflowInt(n) {
			return mismatchf(KindInt, KindInt, "%d overflows %v", n, dv.Type())
		}
		dv.SetInt(n)
		return nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		if n < 0 || dv.OverflowUint(uint64(n)) {
			return mismatchf(KindInt, KindInt, "%d overflows %v", n, dv.Type())
		}
		dv.SetUint(uint64(n))
		return nil
	case reflect.Float32:
		f, err := v.AsFloat()
		if err == nil {
			dv.SetFloat(float64(f))
		}
		return err
	case reflect.Float64:
		f, err := v.AsDouble()
		if err == nil {
			dv.SetFloat(f)
		}
		return err
	case reflect.String:
		s, err := v.AsString()
		if err == nil {
			dv.SetString(s)
		}
		return err
	case reflect.Interface:
		if x := v.Interface(); x != nil {
			dv.Set(reflect.ValueOf(x))
		} else {
			dv.SetZero()
		}
		return nil
	}
	return fmt.Errorf("%w: cannot assign %v to %v", ErrTypeMismatch, v.kind, dv.Type())
}

// KindOf returns the cell kind Go type t maps to, and whether t is nullable
// (a pointer). Unsupported types report ok=false.
func KindOf(t reflect.Type) (kind Kind, nullable bool, ok bool) {
	if t.Kind() == reflect.Pointer {
		k, innerNullable, ok := KindOf(t.Elem())
		if !ok || innerNullable {
			return KindNull, false, false
		}
		return k, true, true
	}
	switch t {
	case timeType:
		return KindTimestamp, false, true
	case decimalType:
		return KindDecimal, false, true
	case objectIDType:
		return KindObjectID, false, true
	case uuidType:
		return KindUUID, false, true
	case bytesType:
		return KindBinary, false, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return KindBool, false, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return KindInt, false, true
	case reflect.Float32:
		return KindFloat, false, true
	case reflect.Float64:
		return KindDouble, false, true
	case reflect.String:
		return KindString, false, true
	}
	return KindNull, false, false
}
