// Package weave turns model structs into objdb accessors.
//
// A model is a struct that embeds objdb.Object by value. Its unexported
// fields are the persisted properties; struct tags adjust them:
//
//	type Dog struct {
//		objdb.Object
//		id     string                   `objdb:",primary"`
//		name   string                   `objdb:",indexed"`
//		owners *objdb.Results[*Person]  `objdb:",backlink=Person.dog"`
//		cache  string                   `objdb:"-"`
//	}
//
// The tag's first element renames the property; the rest are options:
// primary, indexed, required, backlink=Type.property.
package weave

import (
	"errors"
	"fmt"
	"go/token"
	"strings"

	"github.com/andreyvit/objdb"
	"github.com/andreyvit/objdb/cell"
)

const (
	ObjdbPath = "github.com/andreyvit/objdb"
	cellPath  = "github.com/andreyvit/objdb/cell"
	apdPath   = "github.com/cockroachdb/apd/v3"
	uuidPath  = "github.com/google/uuid"
	timePath  = "time"
)

type PropKind int

const (
	Scalar PropKind = iota
	Link
	List
	Set
	Dictionary
	Backlink
)

var propKindNames = [...]string{
	Scalar:     "scalar",
	Link:       "link",
	List:       "list",
	Set:        "set",
	Dictionary: "dictionary",
	Backlink:   "backlink",
}

func (k PropKind) String() string {
	if int(k) < len(propKindNames) {
		return propKindNames[k]
	}
	return fmt.Sprintf("PropKind(%d)", int(k))
}

// Package is the set of models found in one Go package.
type Package struct {
	Name   string
	Models []*Model

	// qual is the identifier the package's files use for objdb, empty when
	// generating into objdb itself.
	qual    string
	imports map[string]string // alias -> import path, of types used by fields
}

func (pkg *Package) Model(name string) *Model {
	for _, m := range pkg.Models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

type Model struct {
	Name  string
	Pos   token.Position
	Props []*Prop
}

func (m *Model) Prop(name string) *Prop {
	for _, p := range m.Props {
		if p.Name == name {
			return p
		}
	}
	return nil
}

type Prop struct {
	Field    string
	Name     string
	Accessor string
	Kind     PropKind
	Pos      token.Position

	// GoType is the field type as written in the source.
	GoType string
	// Elem is the element type of collections and backlinks, and the
	// target of links.
	Elem string
	// Target names the model a link, link collection or backlink refers to.
	Target string

	Nullable bool
	Primary  bool
	Indexed  bool
	Required bool

	OriginType string
	OriginProp string

	kind cell.Kind
}

// HasSetter reports whether the property gets a setter.
func (p *Prop) HasSetter() bool {
	return p.Kind == Scalar || p.Kind == Link
}

// Problem is one reason a model cannot be woven.
type Problem struct {
	Pos   token.Position
	Type  string
	Field string
	Msg   string
}

func (p Problem) String() string {
	var buf strings.Builder
	if p.Pos.IsValid() {
		buf.WriteString(p.Pos.String())
		buf.WriteString(": ")
	}
	buf.WriteString(p.Type)
	if p.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(p.Field)
	}
	buf.WriteString(": ")
	buf.WriteString(p.Msg)
	return buf.String()
}

// Error lists every problem found in a package.
type Error struct {
	Problems []Problem
}

func (e *Error) Error() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = p.String()
	}
	return strings.Join(lines, "\n")
}

// Unwrap returns one *objdb.ModelError per affected type.
func (e *Error) Unwrap() []error {
	var errs []error
	byType := make(map[string]*objdb.ModelError)
	for _, p := range e.Problems {
		me := byType[p.Type]
		if me == nil {
			me = &objdb.ModelError{Type: p.Type}
			byType[p.Type] = me
			errs = append(errs, me)
		}
		msg := p.Msg
		if p.Field != "" {
			msg = p.Field + ": " + msg
		}
		me.Problems = append(me.Problems, msg)
	}
	return errs
}

// ModelErrors returns the problems of err grouped by type, or nil if err
// did not come from this package.
func ModelErrors(err error) []*objdb.ModelError {
	var werr *Error
	if !errors.As(err, &werr) {
		return nil
	}
	var out []*objdb.ModelError
	for _, e := range werr.Unwrap() {
		out = append(out, e.(*objdb.ModelError))
	}
	return out
}
