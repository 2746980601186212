package objdb

import (
	"bytes"
	"testing"
)

func TestValueFlags_Ver(t *testing.T) {
	if (vfVer1 | vfEncrypted).ver() != vfVer1 {
		t.Fatalf("valueFlags.ver returned unexpected value")
	}
}

func TestValueEncoding(t *testing.T) {
	raw := encodeValue(nil, value{
		Flags:     vfDefault,
		SchemaVer: 3,
		ModCount:  7,
		Data:      []byte{1, 2, 3},
		Index:     []byte{9, 8},
	})

	var vle value
	ok(t, vle.decode(raw))
	if vle.Flags != vfDefault || vle.SchemaVer != 3 || vle.ModCount != 7 {
		t.Fatalf("header = %+v", vle)
	}
	if !bytes.Equal(vle.Data, []byte{1, 2, 3}) || !bytes.Equal(vle.Index, []byte{9, 8}) {
		t.Fatalf("body = %x / %x", vle.Data, vle.Index)
	}
	deepEqual(t, vle.ValueMeta(), ValueMeta{SchemaVer: 3, ModCount: 7})
}

func TestValueDecodingErrors(t *testing.T) {
	var vle value
	if err := vle.decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("decode(short) err = nil, wanted error")
	}

	raw := encodeValue(nil, value{Flags: vfDefault, ModCount: 1, Data: []byte{1, 2, 3}})
	if err := vle.decode(raw[:len(raw)-1]); err == nil {
		t.Fatalf("decode(truncated) err = nil, wanted error")
	}

	raw = encodeValue(nil, value{Flags: vfDefault, ModCount: 1, Data: []byte{1}})
	raw[0] = 0x40
	if err := vle.decode(raw); err == nil {
		t.Fatalf("decode(bad flags) err = nil, wanted error")
	}
}

func TestEncodeValuePanicsOnUnknownFlags(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	encodeValue(nil, value{Flags: valueFlags(1 << 10)})
}
