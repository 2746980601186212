package objdb

import (
	"log/slog"
	"testing"
)

func TestObjKeyEncoding(t *testing.T) {
	raw := appendObjKey(nil, 0x0102)
	if hexstr(raw) != "0000000000000102" {
		t.Fatalf("appendObjKey = %x", raw)
	}
	key, err := decodeObjKey(raw)
	ok(t, err)
	if key != 0x0102 {
		t.Fatalf("decodeObjKey = %d, wanted 258", key)
	}
	if _, err := decodeObjKey(raw[:7]); err == nil {
		t.Fatalf("decodeObjKey(short) succeeded")
	}
}

func TestHexHelpers(t *testing.T) {
	if got := hexstr(nil); got != "<nil>" {
		t.Fatalf("hexstr(nil) = %q, wanted <nil>", got)
	}
	if got := hexstr([]byte{}); got != "<empty>" {
		t.Fatalf("hexstr(empty) = %q, wanted <empty>", got)
	}
	if got := hexstr([]byte{0xAA, 0xBB}); got != "aabb" {
		t.Fatalf("hexstr = %q, wanted aabb", got)
	}
	a := hexAttr("k", []byte{0xAA})
	if a.Key != "k" || a.Value.Kind() != slog.KindString {
		t.Fatalf("hexAttr returned unexpected attr: %+v", a)
	}
}
