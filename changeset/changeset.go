// Package changeset describes the difference between two snapshots of an
// observed collection, dictionary or object.
package changeset

import (
	"fmt"
	"strings"
)

// ChangeSet is the difference between two states of an ordered collection.
//
// Deletions and Modifications are indices into the old state; Insertions and
// NewModifications are indices into the new state. Deleting Deletions from
// the old state (highest index first), then inserting Insertions (lowest
// index first), reproduces the new state.
//
// Elements that survived but changed relative position are reported as a
// deletion plus an insertion, and additionally listed in Moves.
type ChangeSet struct {
	Deletions        []int
	Insertions       []int
	Modifications    []int
	NewModifications []int
	Moves            []Move
}

type Move struct {
	From int
	To   int
}

func (cs *ChangeSet) IsEmpty() bool {
	return cs == nil || (len(cs.Deletions) == 0 && len(cs.Insertions) == 0 && len(cs.Modifications) == 0)
}

func (cs *ChangeSet) String() string {
	if cs.IsEmpty() {
		return "{}"
	}
	var buf strings.Builder
	buf.WriteByte('{')
	sep := ""
	section := func(name string, v []int) {
		if len(v) > 0 {
			fmt.Fprintf(&buf, "%s%s=%v", sep, name, v)
			sep = " "
		}
	}
	section("del", cs.Deletions)
	section("ins", cs.Insertions)
	section("mod", cs.Modifications)
	section("newmod", cs.NewModifications)
	if len(cs.Moves) > 0 {
		fmt.Fprintf(&buf, "%smoves=%v", sep, cs.Moves)
	}
	buf.WriteByte('}')
	return buf.String()
}

// DictionaryChangeSet reports changes by key, sorted.
type DictionaryChangeSet struct {
	Insertions    []string
	Deletions     []string
	Modifications []string
}

func (cs *DictionaryChangeSet) IsEmpty() bool {
	return cs == nil || (len(cs.Insertions) == 0 && len(cs.Deletions) == 0 && len(cs.Modifications) == 0)
}

// ObjectChange reports either the deletion of an observed object or the
// names of its properties whose stored value changed.
type ObjectChange struct {
	Deleted           bool
	ChangedProperties []string
}

func (c *ObjectChange) IsEmpty() bool {
	return c == nil || (!c.Deleted && len(c.ChangedProperties) == 0)
}
