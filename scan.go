package objdb

import (
	"bytes"
	"context"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// rawRange defines a range of byte strings within a bucket. The
// constructors use mnemonics: O means open, I inclusive, E exclusive; the
// first letter is for the lower bound, the second for the upper bound.
type rawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
}

func rawOE(u []byte) rawRange     { return rawRange{Upper: u, UpperInc: false} }
func rawPrefix(p []byte) rawRange { return rawRange{Prefix: p} }

func (r *rawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	var skipInitial bool
	lower := r.Lower
	if lower != nil {
		skipInitial = !r.LowerInc
	} else if r.Prefix != nil {
		lower = r.Prefix
	}
	if lower != nil {
		k, v = bcur.Seek(lower)
		if skipInitial && !bytes.Equal(k, lower) {
			skipInitial = false
		}
	} else {
		k, v = bcur.First()
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "scan start", hexAttr("key", k))
	}
	if k != nil && r.match(k) {
		if skipInitial {
			return r.next(bcur, logger)
		}
		return k, v
	}
	return nil, nil
}

func (r *rawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	k, v := bcur.Next()
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "scan next", hexAttr("key", k))
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) match(k []byte) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		return false
	}
	if upper := r.Upper; upper != nil {
		cmp := bytes.Compare(k, upper)
		if cmp == 1 || (cmp == 0 && !r.UpperInc) {
			return false
		}
	}
	return true
}

func (rang *rawRange) newCursor(bcur storageCursor, logger *slog.Logger) *rawRangeCursor {
	return &rawRangeCursor{rang: *rang, bcur: bcur, logger: logger}
}

type rawRangeCursor struct {
	rang   rawRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (c *rawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *rawRangeCursor) Key() []byte   { return c.k }
func (c *rawRangeCursor) Value() []byte { return c.v }
