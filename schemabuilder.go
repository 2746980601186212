package objdb

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/andreyvit/objdb/cell"
)

// ModelBuilder collects the persisted properties of model type T.
type ModelBuilder[T any] struct {
	tbl      *Table
	problems []string
}

type PropertyOption int

const (
	// PrimaryKey marks the property that identifies objects of the type.
	// It can only be set once, before any other property of a new object.
	PrimaryKey PropertyOption = iota + 1

	// Indexed maintains a lookup index for equality queries.
	Indexed

	// Required makes a pointer-typed property non-nullable.
	Required
)

func (opt PropertyOption) String() string {
	switch opt {
	case PrimaryKey:
		return "PrimaryKey"
	case Indexed:
		return "Indexed"
	case Required:
		return "Required"
	default:
		return fmt.Sprintf("PropertyOption(%d)", int(opt))
	}
}

// DefineModel registers struct type T as a persisted type called name. T
// must embed Object by value. Properties are declared by f using Field,
// ListField, SetField, DictionaryField and BacklinkField.
//
// DefineModel panics with a *ModelError listing every problem it finds;
// it is meant to run during package initialization.
func DefineModel[T any](scm *Schema, name string, f func(b *ModelBuilder[T])) *Table {
	rt := reflect.TypeFor[T]()
	tbl := newTable(name)
	tbl.rowType = rt

	b := &ModelBuilder[T]{tbl: tbl}
	if strings.HasPrefix(name, "_") {
		b.problem("type names starting with an underscore are reserved")
	} else if name == "" {
		b.problem("type name cannot be empty")
	}
	b.problems = append(b.problems, checkModelType(rt)...)
	if len(b.problems) == 0 {
		tbl.newObj = func() Model {
			return any(new(T)).(Model)
		}
	}
	if f != nil {
		f(b)
	}
	if len(b.problems) > 0 {
		panic(&ModelError{Type: name, Problems: b.problems})
	}
	scm.addTable(tbl)
	registerModelTable(rt, tbl)
	return tbl
}

func (b *ModelBuilder[T]) Table() *Table {
	return b.tbl
}

func (b *ModelBuilder[T]) problem(format string, args ...any) {
	b.problems = append(b.problems, fmt.Sprintf(format, args...))
}

func (b *ModelBuilder[T]) add(prop *Property) {
	b.problems = append(b.problems, b.tbl.addProperty(prop)...)
}

func bindField[T, V any](ptr func(*T) *V) *fieldBinding {
	return &fieldBinding{
		typ: reflect.TypeFor[V](),
		field: func(m Model) reflect.Value {
			return reflect.ValueOf(ptr(any(m).(*T))).Elem()
		},
	}
}

// Field declares a scalar or link property stored in the backing field
// returned by ptr. V is a supported scalar type, a pointer to one
// (nullable), or a pointer to another model type (a link).
func Field[T, V any](b *ModelBuilder[T], name string, ptr func(*T) *V, opts ...PropertyOption) {
	vt := reflect.TypeFor[V]()
	prop := &Property{Name: name}
	if !b.describeElem(prop, vt) {
		return
	}
	b.applyOptions(prop, vt, opts)
	prop.binding = bindField(ptr)
	b.add(prop)
}

func ListField[T, E any](b *ModelBuilder[T], name string, ptr func(*T) **List[E], opts ...PropertyOption) {
	b.collectionField(name, CollList, reflect.TypeFor[E](), bindField(ptr), opts)
}

func SetField[T, E any](b *ModelBuilder[T], name string, ptr func(*T) **Set[E], opts ...PropertyOption) {
	b.collectionField(name, CollSet, reflect.TypeFor[E](), bindField(ptr), opts)
}

func DictionaryField[T, V any](b *ModelBuilder[T], name string, ptr func(*T) **Dictionary[V], opts ...PropertyOption) {
	b.collectionField(name, CollDictionary, reflect.TypeFor[V](), bindField(ptr), opts)
}

func (b *ModelBuilder[T]) collectionField(name string, coll CollectionKind, et reflect.Type, binding *fieldBinding, opts []PropertyOption) {
	prop := &Property{Name: name, Coll: coll}
	if !b.describeElem(prop, et) {
		return
	}
	for _, opt := range opts {
		switch opt {
		case Required:
			if prop.IsLink() {
				b.problem("%s: collections of links cannot be Required", name)
			} else if !prop.Nullable {
				b.problem("%s: Required is only valid for pointer elements", name)
			}
			prop.Nullable = false
		default:
			b.problem("%s: %v is not supported on %s properties", name, opt, coll)
		}
	}
	if coll == CollSet && prop.Kind == cell.KindBinary {
		b.problem("%s: sets of binary values are not supported", name)
	}
	prop.binding = binding
	b.add(prop)
}

// BacklinkField declares a read-only property listing the objects of type
// originType whose property originProperty links to this object.
func BacklinkField[T, E any](b *ModelBuilder[T], name string, originType, originProperty string, ptr func(*T) **Results[E]) {
	et := reflect.TypeFor[E]()
	if modelTarget(et) == nil {
		b.problem("%s: backlink element type %v is not a pointer to a model", name, et)
		return
	}
	if originType == "" || originProperty == "" {
		b.problem("%s: backlinks need an origin type and property", name)
		return
	}
	prop := &Property{
		Name:           name,
		Kind:           cell.KindLink,
		Target:         originType,
		OriginProperty: originProperty,
		binding:        bindField(ptr),
	}
	b.add(prop)
}

func (b *ModelBuilder[T]) describeElem(prop *Property, vt reflect.Type) bool {
	if target := modelTarget(vt); target != nil {
		prop.Kind = cell.KindLink
		prop.targetType = target
		prop.Nullable = prop.Coll == CollNone || prop.Coll == CollDictionary
		return true
	}
	if vt == cellValueType {
		b.problem("%s: cell.Value is only supported by the dynamic API", prop.Name)
		return false
	}
	kind, nullable, ok := cell.KindOf(vt)
	if !ok {
		if prop.Coll != CollNone {
			b.problem("%s: unsupported %s element type %v", prop.Name, prop.Coll, vt)
		} else {
			b.problem("%s: unsupported property type %v", prop.Name, vt)
		}
		return false
	}
	prop.Kind = kind
	prop.Nullable = nullable
	return true
}

func (b *ModelBuilder[T]) applyOptions(prop *Property, vt reflect.Type, opts []PropertyOption) {
	for _, opt := range opts {
		switch opt {
		case PrimaryKey:
			if !isPrimaryKeyKind(prop.Kind) {
				b.problem("%s: %v cannot be a primary key", prop.Name, vt)
			}
			prop.Primary = true
		case Indexed:
			if !isIndexable(prop.Kind) {
				b.problem("%s: %v cannot be indexed", prop.Name, vt)
			}
			prop.Indexed = true
		case Required:
			switch {
			case prop.IsLink():
				b.problem("%s: links cannot be Required", prop.Name)
			case prop.Nullable:
				prop.Nullable = false
				prop.Required = true
			case prop.Kind == cell.KindString || prop.Kind == cell.KindBinary:
				prop.Required = true
			default:
				b.problem("%s: Required is not valid on non-nullable type %v", prop.Name, vt)
			}
		default:
			b.problem("%s: invalid option %v", prop.Name, opt)
		}
	}
}

func isPrimaryKeyKind(k cell.Kind) bool {
	switch k {
	case cell.KindInt, cell.KindString, cell.KindObjectID, cell.KindUUID:
		return true
	}
	return false
}

// fieldBinding gives access to the backing field of a typed model, which
// holds the property value while the object is unmanaged.
type fieldBinding struct {
	typ   reflect.Type
	field func(m Model) reflect.Value
}
