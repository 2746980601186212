package objdb

import (
	"log/slog"
	"testing"
)

func scanKeys(t *testing.T, rang rawRange, keys ...string) []string {
	t.Helper()
	s := newMemStorage()
	defer s.Close()
	stx, err := s.BeginTx(true)
	ok(t, err)
	defer stx.Rollback()
	b, err := stx.CreateBucket("t", "")
	ok(t, err)
	for _, k := range keys {
		ok(t, b.Put([]byte(k), []byte("v"+k)))
	}

	var out []string
	for c := rang.newCursor(b.Cursor(), slog.Default()); c.Next(); {
		if string(c.Value()) != "v"+string(c.Key()) {
			t.Fatalf("value for %q = %q", c.Key(), c.Value())
		}
		out = append(out, string(c.Key()))
	}
	return out
}

func TestRawRangeScans(t *testing.T) {
	keys := []string{"a", "ab", "abc", "b", "ba", "c"}
	tests := []struct {
		name string
		rang rawRange
		want []string
	}{
		{"all", rawRange{}, keys},
		{"prefix", rawPrefix([]byte("a")), []string{"a", "ab", "abc"}},
		{"prefix missing", rawPrefix([]byte("x")), nil},
		{"upper exclusive", rawOE([]byte("b")), []string{"a", "ab", "abc"}},
		{"upper inclusive", rawRange{Upper: []byte("b"), UpperInc: true}, []string{"a", "ab", "abc", "b"}},
		{"lower exclusive", rawRange{Lower: []byte("b")}, []string{"ba", "c"}},
		{"lower inclusive", rawRange{Lower: []byte("b"), LowerInc: true}, []string{"b", "ba", "c"}},
		{"lower between keys", rawRange{Lower: []byte("abd")}, []string{"b", "ba", "c"}},
		{"prefix and upper", rawRange{Prefix: []byte("a"), Upper: []byte("ab"), UpperInc: true}, []string{"a", "ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deepEqual(t, scanKeys(t, tt.rang, keys...), tt.want)
		})
	}
}
