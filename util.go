package objdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime/debug"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

// safelyCall runs fn, turning a panic into an error. Panics that carry an
// error value (the typed accessor layer panics with objdb errors) are
// returned as is so that errors.Is keeps working.
func safelyCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok && isObjdbError(e) {
				err = e
			} else {
				err = panicked{p, string(debug.Stack())}
			}
		}
	}()
	return fn()
}

func isObjdbError(err error) bool {
	return Category(err) != CategoryNone
}

// Catch runs f and returns the objdb error it panicked with, if any. Other
// panics propagate.
func Catch(f func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok && isObjdbError(e) {
				err = e
				return
			}
			panic(p)
		}
	}()
	f()
	return nil
}

func appendObjKey(buf []byte, key ObjKey) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(key))
}

func decodeObjKey(raw []byte) (ObjKey, error) {
	if len(raw) != 8 {
		return 0, dataErrf(raw, 0, nil, "invalid object key")
	}
	return ObjKey(binary.BigEndian.Uint64(raw)), nil
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}
