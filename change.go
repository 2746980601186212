package objdb

import (
	"fmt"
)

type (
	// Change records one row written or deleted by a write transaction.
	Change struct {
		table *Table
		op    Op
		key   ObjKey
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (chg Change) Table() *Table {
	return chg.table
}
func (chg Change) Op() Op {
	return chg.op
}
func (chg Change) Key() ObjKey {
	return chg.key
}

func (chg Change) String() string {
	return fmt.Sprintf("%v %s/%d", chg.op, chg.table.name, chg.key)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
