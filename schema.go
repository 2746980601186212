package objdb

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/andreyvit/objdb/cell"
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Schema is the set of persisted types an instance is opened with. Models
// are added with DefineModel; the schema is finalized by the first Open and
// is immutable afterwards.
type Schema struct {
	tables       []*Table
	tablesByName map[string]*Table
	tablesByFold map[string]*Table
	tablesByType map[reflect.Type]*Table

	finalizeOnce sync.Once
	finalizeErr  error
	finalized    bool
}

func NewSchema() *Schema {
	scm := &Schema{}
	scm.init()
	return scm
}

func (scm *Schema) init() {
	if scm.tablesByName == nil {
		scm.tablesByName = make(map[string]*Table)
		scm.tablesByFold = make(map[string]*Table)
		scm.tablesByType = make(map[reflect.Type]*Table)
	}
}

func (scm *Schema) addTable(tbl *Table) {
	scm.init()
	if scm.finalized {
		panic(fmt.Errorf("objdb: cannot add %s to a schema that is already in use", tbl.name))
	}
	if scm.tablesByName[tbl.name] != nil {
		panic(fmt.Errorf("objdb: duplicate model name %q", tbl.name))
	}
	if prev := scm.tablesByFold[foldName(tbl.name)]; prev != nil {
		panic(fmt.Errorf("objdb: model name %q differs from %q only by case", tbl.name, prev.name))
	}
	tbl.schema = scm
	scm.tables = append(scm.tables, tbl)
	scm.tablesByName[tbl.name] = tbl
	scm.tablesByFold[foldName(tbl.name)] = tbl
	if tbl.rowType != nil {
		scm.tablesByType[tbl.rowType] = tbl
	}
}

func (scm *Schema) Tables() []*Table {
	return slices.Clone(scm.tables)
}

// Table returns the table with exactly this name, or nil.
func (scm *Schema) Table(name string) *Table {
	return scm.tablesByName[name]
}

// TableNamed looks a table up ignoring case.
func (scm *Schema) TableNamed(name string) *Table {
	if tbl := scm.tablesByName[name]; tbl != nil {
		return tbl
	}
	return scm.tablesByFold[foldName(name)]
}

func (scm *Schema) tableByType(rt reflect.Type) *Table {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return scm.tablesByType[rt]
}

func foldName(s string) string {
	return cases.Fold().String(s)
}

// finalize resolves links, backlinks and indices. It runs once.
func (scm *Schema) finalize() error {
	scm.finalizeOnce.Do(func() {
		scm.init()
		scm.finalized = true
		var errs []error
		for _, tbl := range scm.tables {
			if problems := tbl.resolve(); len(problems) > 0 {
				errs = append(errs, &ModelError{Type: tbl.name, Problems: problems})
			}
		}
		scm.finalizeErr = errors.Join(errs...)
	})
	return scm.finalizeErr
}

type CollectionKind uint8

const (
	CollNone CollectionKind = iota
	CollList
	CollSet
	CollDictionary
)

var collNames = [...]string{
	CollNone:       "",
	CollList:       "list",
	CollSet:        "set",
	CollDictionary: "dictionary",
}

func (k CollectionKind) String() string {
	if int(k) < len(collNames) {
		return collNames[k]
	}
	return fmt.Sprintf("collection(%d)", int(k))
}

func parseCollectionKind(s string) (CollectionKind, bool) {
	for k, name := range collNames {
		if name == s {
			return CollectionKind(k), true
		}
	}
	return CollNone, false
}

// TableKey is the stable numeric identity of a table within one file.
type TableKey uint64

// Table describes one persisted type.
type Table struct {
	schema      *Schema
	name        string
	props       []*Property
	propsByName map[string]*Property
	columns     []*Property
	backlinks   []*Property
	primary     *Property

	indices       []*Index
	indicesByName map[string]*Index
	pkIndex       *Index

	rowType reflect.Type
	newObj  func() Model
}

func newTable(name string) *Table {
	return &Table{
		name:          name,
		propsByName:   make(map[string]*Property),
		indicesByName: make(map[string]*Index),
	}
}

func (tbl *Table) Name() string { return tbl.name }
func (tbl *Table) String() string { return tbl.name }
func (tbl *Table) Schema() *Schema { return tbl.schema }
func (tbl *Table) IsDynamic() bool { return tbl.newObj == nil }
func (tbl *Table) Indices() []*Index { return slices.Clone(tbl.indices) }

// Properties returns persisted properties followed by backlinks, in
// declaration order.
func (tbl *Table) Properties() []*Property {
	return slices.Clone(tbl.props)
}

func (tbl *Table) Property(name string) *Property {
	return tbl.propsByName[name]
}

func (tbl *Table) PrimaryKey() *Property {
	return tbl.primary
}

func (tbl *Table) prop(name string) (*Property, error) {
	prop := tbl.propsByName[name]
	if prop == nil {
		return nil, propErr(tbl, name, ErrUnknownProperty)
	}
	return prop, nil
}

func (tbl *Table) addProperty(prop *Property) []string {
	var problems []string
	if prop.Name == "" {
		return []string{"property name cannot be empty"}
	}
	if tbl.propsByName[prop.Name] != nil {
		return []string{fmt.Sprintf("duplicate property %q", prop.Name)}
	}
	prop.table = tbl
	prop.col = -1
	if !prop.IsBacklink() {
		prop.col = len(tbl.columns)
		tbl.columns = append(tbl.columns, prop)
	} else {
		tbl.backlinks = append(tbl.backlinks, prop)
	}
	if prop.Primary {
		if tbl.primary != nil {
			problems = append(problems, fmt.Sprintf("more than one primary key: %s and %s", tbl.primary.Name, prop.Name))
		} else {
			tbl.primary = prop
		}
	}
	tbl.props = append(tbl.props, prop)
	tbl.propsByName[prop.Name] = prop
	return problems
}

func (tbl *Table) addIndex(idx *Index) {
	if tbl.indicesByName[idx.name] != nil {
		panic(fmt.Errorf("table %s already has index named %q", tbl.name, idx.name))
	}
	idx.pos = len(tbl.indices)
	idx.table = tbl
	tbl.indices = append(tbl.indices, idx)
	tbl.indicesByName[idx.name] = idx
}

func (tbl *Table) IndexNamed(name string) *Index {
	return tbl.indicesByName[name]
}

func (tbl *Table) resolve() []string {
	var problems []string
	for _, prop := range tbl.props {
		switch {
		case prop.IsBacklink():
			origin := tbl.schema.tablesByName[prop.Target]
			if origin == nil {
				problems = append(problems, fmt.Sprintf("backlink %s: unknown origin type %q", prop.Name, prop.Target))
				continue
			}
			op := origin.propsByName[prop.OriginProperty]
			if op == nil || !op.IsLink() || op.IsBacklink() {
				problems = append(problems, fmt.Sprintf("backlink %s: %s.%s is not a link property", prop.Name, prop.Target, prop.OriginProperty))
				continue
			}
			if op.Target != tbl.name && op.target != tbl && (op.targetType == nil || op.targetType != tbl.rowType) {
				problems = append(problems, fmt.Sprintf("backlink %s: %s.%s does not link to %s", prop.Name, prop.Target, prop.OriginProperty, tbl.name))
				continue
			}
			prop.origin = op
			prop.target = origin
		case prop.IsLink():
			var target *Table
			if prop.targetType != nil {
				target = tbl.schema.tableByType(prop.targetType)
			} else {
				target = tbl.schema.tablesByName[prop.Target]
			}
			if target == nil {
				name := prop.Target
				if prop.targetType != nil {
					name = prop.targetType.String()
				}
				problems = append(problems, fmt.Sprintf("property %s links to %s, which is not part of the schema", prop.Name, name))
				continue
			}
			prop.target = target
			prop.Target = target.name
		}
	}
	if len(problems) > 0 {
		return problems
	}

	if tbl.primary != nil && tbl.pkIndex == nil {
		tbl.pkIndex = &Index{name: "pk", kind: indexPrimary, unique: true, prop: tbl.primary}
		tbl.addIndex(tbl.pkIndex)
	}
	for _, prop := range tbl.columns {
		if prop.Indexed && !prop.Primary && prop.valueIndex == nil {
			prop.valueIndex = &Index{name: "p:" + prop.Name, kind: indexValue, prop: prop}
			tbl.addIndex(prop.valueIndex)
		}
		if prop.IsLink() && prop.linkIndex == nil {
			prop.linkIndex = &Index{name: "l:" + prop.Name, kind: indexLink, prop: prop}
			tbl.addIndex(prop.linkIndex)
		}
	}
	return nil
}

// Property describes one persisted property, or a computed backlink.
type Property struct {
	Name     string
	Kind     cell.Kind
	Coll     CollectionKind
	Nullable bool
	Primary  bool
	Indexed  bool
	Required bool

	// Target is the linked table name for links, and the origin table name
	// for backlinks.
	Target string

	// OriginProperty names the link property of Target that a backlink
	// reverses. Empty for everything else.
	OriginProperty string

	table      *Table
	col        int
	binding    *fieldBinding
	targetType reflect.Type
	target     *Table
	origin     *Property
	linkIndex  *Index
	valueIndex *Index
}

func (prop *Property) Table() *Table { return prop.table }
func (prop *Property) IsBacklink() bool { return prop.OriginProperty != "" }
func (prop *Property) IsLink() bool { return prop.Kind == cell.KindLink }
func (prop *Property) TargetTable() *Table { return prop.target }

func (prop *Property) String() string {
	if prop.table == nil {
		return prop.Name
	}
	return prop.table.name + "." + prop.Name
}

// TypeString describes the property type the way schema dumps show it.
func (prop *Property) TypeString() string {
	var buf strings.Builder
	if prop.IsBacklink() {
		return "backlinks<" + prop.Target + "." + prop.OriginProperty + ">"
	}
	if prop.Coll != CollNone {
		buf.WriteString(prop.Coll.String())
		buf.WriteByte('<')
	}
	if prop.IsLink() {
		buf.WriteString(prop.Target)
	} else {
		buf.WriteString(prop.Kind.String())
	}
	if prop.Nullable && !prop.IsLink() {
		buf.WriteByte('?')
	}
	if prop.Coll != CollNone {
		buf.WriteByte('>')
	}
	return buf.String()
}

func (prop *Property) defaultColumn() column {
	switch prop.Coll {
	case CollList, CollSet:
		return column{}
	case CollDictionary:
		return column{dict: map[string]cell.Value{}}
	}
	if prop.Nullable || prop.IsLink() {
		return column{v: cell.Null}
	}
	return column{v: zeroValue(prop.Kind)}
}

// elemNullable reports whether null is an acceptable value or element.
func (prop *Property) elemNullable() bool {
	return prop.Nullable || (prop.IsLink() && prop.Coll == CollNone) || (prop.IsLink() && prop.Coll == CollDictionary)
}

// checkValue validates v against the property type and normalizes
// numeric widths (float32 columns accept doubles that fit, and so on).
func (prop *Property) checkValue(v cell.Value) (cell.Value, error) {
	if v.IsNull() {
		if !prop.elemNullable() {
			return v, propErr(prop.table, prop.Name, ErrRequired)
		}
		return v, nil
	}
	if v.Kind() == prop.Kind {
		if prop.IsLink() {
			l, _ := v.AsLink()
			if l.Table != prop.Target {
				return v, propErr(prop.table, prop.Name, fmt.Errorf("%w: link to %s where %s is expected", ErrTypeMismatch, l.Table, prop.Target))
			}
		}
		return v, nil
	}
	switch prop.Kind {
	case cell.KindDouble:
		if f, err := v.AsDouble(); err == nil {
			return cell.DoubleValue(f), nil
		}
	case cell.KindDecimal:
		if d, err := v.AsDecimal(); err == nil {
			return cell.DecimalValue(d), nil
		}
	case cell.KindFloat:
		if v.Kind() == cell.KindDouble {
			f, _ := v.AsDouble()
			if float64(float32(f)) == f {
				return cell.FloatValue(float32(f)), nil
			}
		}
	}
	return v, propErr(prop.table, prop.Name, fmt.Errorf("%w: cannot store %v in %s", ErrTypeMismatch, v.Kind(), prop.TypeString()))
}

func zeroValue(k cell.Kind) cell.Value {
	switch k {
	case cell.KindBool:
		return cell.BoolValue(false)
	case cell.KindInt:
		return cell.IntValue(0)
	case cell.KindFloat:
		return cell.FloatValue(0)
	case cell.KindDouble:
		return cell.DoubleValue(0)
	case cell.KindString:
		return cell.StringValue("")
	case cell.KindBinary:
		return cell.BinaryValue(nil)
	case cell.KindTimestamp:
		return cell.TimestampValue(time.Time{})
	case cell.KindDecimal:
		return cell.DecimalValue(new(apd.Decimal))
	case cell.KindObjectID:
		return cell.ObjectIDValue(cell.ObjectID{})
	case cell.KindUUID:
		return cell.UUIDValue(uuid.UUID{})
	default:
		return cell.Null
	}
}

// isIndexable reports whether values of kind k can be primary keys or be
// indexed.
func isIndexable(k cell.Kind) bool {
	switch k {
	case cell.KindBool, cell.KindInt, cell.KindString, cell.KindTimestamp, cell.KindObjectID, cell.KindUUID:
		return true
	}
	return false
}

// TableDescription is the plain form of a table used by schema dumps.
type TableDescription struct {
	Name       string                `json:"name" yaml:"name"`
	PrimaryKey string                `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Properties []PropertyDescription `json:"properties" yaml:"properties"`
	Indices    []string              `json:"indices,omitempty" yaml:"indices,omitempty"`
}

type PropertyDescription struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Indexed  bool   `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

func (scm *Schema) Describe() []TableDescription {
	out := make([]TableDescription, 0, len(scm.tables))
	for _, tbl := range scm.tables {
		td := TableDescription{Name: tbl.name}
		if tbl.primary != nil {
			td.PrimaryKey = tbl.primary.Name
		}
		for _, prop := range tbl.props {
			td.Properties = append(td.Properties, PropertyDescription{
				Name:     prop.Name,
				Type:     prop.TypeString(),
				Indexed:  prop.Indexed,
				Required: prop.Required,
			})
		}
		for _, idx := range tbl.indices {
			td.Indices = append(td.Indices, idx.String())
		}
		out = append(out, td)
	}
	return out
}

// MarshalYAML implements yaml.Marshaler.
func (scm *Schema) MarshalYAML() (any, error) {
	return scm.Describe(), nil
}

func (scm *Schema) String() string {
	var buf strings.Builder
	for _, td := range scm.Describe() {
		fmt.Fprintf(&buf, "%s", td.Name)
		if td.PrimaryKey != "" {
			fmt.Fprintf(&buf, " (primary key %s)", td.PrimaryKey)
		}
		buf.WriteByte('\n')
		for _, pd := range td.Properties {
			fmt.Fprintf(&buf, "  %s %s", pd.Name, pd.Type)
			if pd.Indexed {
				buf.WriteString(" indexed")
			}
			if pd.Required {
				buf.WriteString(" required")
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
