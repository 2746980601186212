package objdb

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestPropertyError(t *testing.T) {
	tbl := testSchema.Table("Person")
	err := propErr(tbl, "age", ErrRequired)
	if !errors.Is(err, ErrRequired) {
		t.Fatalf("errors.Is(err, ErrRequired) = false, wanted true")
	}
	if s := err.Error(); s != "Person.age: "+ErrRequired.Error() {
		t.Fatalf("err.Error() = %q", s)
	}
}

func TestConfigError(t *testing.T) {
	inner := errors.New("inner")
	s := configErrf("/tmp/x.db", inner, "bad %s", "thing").Error()
	if s != "objdb: /tmp/x.db: bad thing: inner" {
		t.Fatalf("Error() = %q", s)
	}
	s = configErrf("", nil, "bad").Error()
	if s != "objdb: bad" {
		t.Fatalf("Error() = %q", s)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		err      error
		expected ErrorCategory
	}{
		{nil, CategoryNone},
		{errors.New("random"), CategoryNone},
		{&SchemaError{Problems: []string{"x"}}, CategoryConfiguration},
		{configErrf("p", nil, "x"), CategoryConfiguration},
		{&ModelError{Type: "T"}, CategoryConfiguration},
		{fmt.Errorf("wrapped: %w", ErrFileInUse), CategoryConfiguration},
		{ErrNotInWriteTransaction, CategoryTransaction},
		{propErr(testSchema.Table("Dog"), "id", ErrPrimaryKeyAlreadySet), CategoryTransaction},
		{ErrUnmanagedLink, CategoryTransaction},
		{ErrInvalidatedObject, CategoryInvalidated},
		{ErrIndexOutOfRange, CategoryInvalidated},
		{ErrTypeMismatch, CategoryTypeMismatch},
		{ErrRequired, CategoryTypeMismatch},
		{&EngineError{Op: "put", Err: errors.New("disk")}, CategoryEngine},
		{dataErrf(nil, 0, nil, "bad"), CategoryEngine},
		{&NotificationError{Err: &EngineError{Op: "read", Err: errors.New("disk")}}, CategoryNotification},
	}
	for _, tt := range tests {
		if a := Category(tt.err); a != tt.expected {
			t.Errorf("Category(%v) = %v, wanted %v", tt.err, a, tt.expected)
		}
	}
}

func TestCatch(t *testing.T) {
	err := Catch(func() { panic(fmt.Errorf("x: %w", ErrInvalidatedObject)) })
	isErr(t, err, ErrInvalidatedObject)

	if err := Catch(func() {}); err != nil {
		t.Fatalf("Catch = %v, wanted nil", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a foreign panic to propagate")
		}
	}()
	Catch(func() { panic("boom") })
}

func TestSafelyCall(t *testing.T) {
	err := safelyCall(func() error { panic(ErrRequired) })
	if err != ErrRequired {
		t.Fatalf("safelyCall = %v, wanted ErrRequired", err)
	}
	err = safelyCall(func() error { panic("boom") })
	var p panicked
	if !errors.As(err, &p) || p.reason != "boom" {
		t.Fatalf("safelyCall = %#v, wanted panicked{boom}", err)
	}
}
