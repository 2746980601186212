package weave

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/andreyvit/objdb/cell"
)

// objectMethods are the exported methods of objdb.Object that generated
// accessors must not shadow.
var objectMethods = []string{
	"DB", "GetValue", "Handle", "IsManaged", "IsValid", "Key", "Observe",
	"OnPropertyChanged", "SetValue", "SetValueUnique", "String", "Table",
}

// ParseDir parses the non-test Go files of dir. Files for which skip
// returns true are left out; generated output should be.
func ParseDir(dir string, skip func(name string) bool) (*Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var files []*ast.File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		if skip != nil && skip(name) {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no Go files", dir)
	}
	return ParseFiles(fset, files)
}

// ParseSource parses a single file.
func ParseSource(filename string, src []byte) (*Package, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	return ParseFiles(fset, []*ast.File{f})
}

// ParseFiles finds the models declared in files, which must belong to one
// package. The error, if any, is an *Error listing every problem.
func ParseFiles(fset *token.FileSet, files []*ast.File) (*Package, error) {
	p := &packageParser{
		fset: fset,
		pkg:  &Package{imports: make(map[string]string)},
	}
	var decls []*modelDecl
	for _, f := range files {
		if p.pkg.Name == "" {
			p.pkg.Name = f.Name.Name
		} else if p.pkg.Name != f.Name.Name {
			return nil, fmt.Errorf("%s: package %s, expected %s", fset.Position(f.Package).Filename, f.Name.Name, p.pkg.Name)
		}
		decls = append(decls, p.findModels(f)...)
	}
	for _, d := range decls {
		p.parseFields(d)
	}
	for _, m := range p.pkg.Models {
		p.checkModel(m)
	}
	if len(p.problems) > 0 {
		return p.pkg, &Error{Problems: p.problems}
	}
	return p.pkg, nil
}

type packageParser struct {
	fset     *token.FileSet
	pkg      *Package
	problems []Problem
	qualSet  bool
}

type modelDecl struct {
	model   *Model
	st      *ast.StructType
	imports map[string]string
}

func (p *packageParser) problem(pos token.Pos, typ, field, format string, args ...any) {
	p.problems = append(p.problems, Problem{
		Pos:   p.fset.Position(pos),
		Type:  typ,
		Field: field,
		Msg:   fmt.Sprintf(format, args...),
	})
}

func fileImports(f *ast.File) map[string]string {
	m := make(map[string]string)
	for _, spec := range f.Imports {
		ipath, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		alias := defaultAlias(ipath)
		if spec.Name != nil {
			alias = spec.Name.Name
		}
		if alias == "_" || alias == "." {
			continue
		}
		m[alias] = ipath
	}
	return m
}

// defaultAlias guesses the package name of an import path the way goimports
// does for versioned paths.
func defaultAlias(ipath string) string {
	base := path.Base(ipath)
	if len(base) > 1 && base[0] == 'v' && strings.Trim(base[1:], "0123456789") == "" {
		base = path.Base(path.Dir(ipath))
	}
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return strings.ReplaceAll(base, "-", "_")
}

// objdbRef reports whether x names the objdb declaration name in a file
// with the given imports.
func (p *packageParser) objdbRef(x ast.Expr, imports map[string]string, name string) bool {
	switch x := x.(type) {
	case *ast.Ident:
		return p.pkg.Name == "objdb" && x.Name == name
	case *ast.SelectorExpr:
		id, ok := x.X.(*ast.Ident)
		return ok && x.Sel.Name == name && imports[id.Name] == ObjdbPath
	}
	return false
}

func (p *packageParser) findModels(f *ast.File) []*modelDecl {
	imports := fileImports(f)
	var out []*modelDecl
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			st, ok := ts.Type.(*ast.StructType)
			if !ok {
				continue
			}
			byValue, byPointer := false, false
			for _, fld := range st.Fields.List {
				if len(fld.Names) != 0 {
					continue
				}
				if p.objdbRef(fld.Type, imports, "Object") {
					byValue = true
				} else if star, ok := fld.Type.(*ast.StarExpr); ok && p.objdbRef(star.X, imports, "Object") {
					byPointer = true
				}
			}
			name := ts.Name.Name
			switch {
			case byPointer && !byValue:
				p.problem(ts.Pos(), name, "", "must embed objdb.Object by value")
				continue
			case !byValue:
				continue
			}
			if ts.TypeParams != nil && len(ts.TypeParams.List) > 0 {
				p.problem(ts.Pos(), name, "", "model types cannot be generic")
				continue
			}
			if strings.HasPrefix(name, "_") {
				p.problem(ts.Pos(), name, "", "type names starting with an underscore are reserved")
				continue
			}
			if !p.qualSet {
				p.qualSet = true
				for alias, ipath := range imports {
					if ipath == ObjdbPath {
						p.pkg.qual = alias
					}
				}
			}
			m := &Model{Name: name, Pos: p.fset.Position(ts.Pos())}
			p.pkg.Models = append(p.pkg.Models, m)
			out = append(out, &modelDecl{model: m, st: st, imports: imports})
		}
	}
	return out
}

func (p *packageParser) parseFields(d *modelDecl) {
	m := d.model
	for _, fld := range d.st.Fields.List {
		if len(fld.Names) == 0 {
			continue
		}
		var tag reflect.StructTag
		if fld.Tag != nil {
			if s, err := strconv.Unquote(fld.Tag.Value); err == nil {
				tag = reflect.StructTag(s)
			}
		}
		spec, tagged := tag.Lookup("objdb")
		if spec == "-" {
			continue
		}
		for _, id := range fld.Names {
			if id.Name == "_" {
				continue
			}
			if id.IsExported() {
				if tagged {
					p.problem(id.Pos(), m.Name, id.Name, "persisted fields must be unexported")
				}
				continue
			}
			prop := p.parseField(d, id, fld.Type, spec)
			if prop != nil {
				m.Props = append(m.Props, prop)
			}
		}
	}
}

func (p *packageParser) parseField(d *modelDecl, id *ast.Ident, typ ast.Expr, spec string) *Prop {
	m := d.model
	prop := &Prop{
		Field:  id.Name,
		Name:   id.Name,
		Pos:    p.fset.Position(id.Pos()),
		GoType: types.ExprString(typ),
	}
	opts := strings.Split(spec, ",")
	if opts[0] != "" {
		prop.Name = opts[0]
	}
	opts = opts[1:]
	prop.Accessor = exportName(prop.Name)

	fail := func(format string, args ...any) *Prop {
		p.problem(id.Pos(), m.Name, prop.Name, format, args...)
		return nil
	}

	if coll, elem, ok := p.collectionType(typ, d.imports); ok {
		prop.Kind = coll
		prop.Elem = types.ExprString(elem)
		ek, nullable, target, ok := p.elemType(elem, d.imports)
		switch {
		case !ok && coll == Backlink:
			return fail("backlink element type %s is not a pointer to a model", prop.Elem)
		case !ok:
			return fail("unsupported %s element type %s", coll, prop.Elem)
		case coll == Backlink && target == "":
			return fail("backlink element type %s is not a pointer to a model", prop.Elem)
		}
		prop.kind, prop.Nullable, prop.Target = ek, nullable, target
	} else {
		ek, nullable, target, ok := p.elemType(typ, d.imports)
		if !ok {
			return fail("unsupported property type %s", prop.GoType)
		}
		prop.kind, prop.Nullable, prop.Target = ek, nullable, target
		if target != "" {
			prop.Kind = Link
		}
	}
	p.recordImports(typ, d.imports)

	for _, opt := range opts {
		key, val, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "":
		case "primary":
			if prop.Kind != Scalar || !isPrimaryKeyKind(prop.kind) {
				return fail("%s cannot be a primary key", prop.GoType)
			}
			prop.Primary = true
		case "indexed":
			if prop.Kind != Scalar || !isIndexable(prop.kind) {
				return fail("%s cannot be indexed", prop.GoType)
			}
			prop.Indexed = true
		case "required":
			switch {
			case prop.Kind == Backlink:
				return fail("backlinks cannot be required")
			case prop.Target != "":
				return fail("links cannot be required")
			case prop.Nullable:
				prop.Nullable = false
				prop.Required = true
			case prop.Kind == Scalar && (prop.kind == cell.KindString || prop.kind == cell.KindBinary):
				prop.Required = true
			case prop.Kind == Scalar:
				return fail("required is not valid on non-nullable type %s", prop.GoType)
			default:
				return fail("required is only valid for pointer elements")
			}
		case "backlink":
			if prop.Kind != Backlink {
				return fail("backlink is only valid on objdb.Results fields")
			}
			typ, origin, ok := strings.Cut(val, ".")
			if !ok || typ == "" || origin == "" {
				return fail("backlink must be written as backlink=Type.property")
			}
			prop.OriginType, prop.OriginProp = typ, origin
		default:
			return fail("unknown option %q", key)
		}
	}
	if prop.Kind == Backlink && prop.OriginType == "" {
		return fail("backlinks need an origin: backlink=Type.property")
	}
	if prop.Kind == Set && prop.kind == cell.KindBinary {
		return fail("sets of binary values are not supported")
	}
	return prop
}

// collectionType matches *objdb.List[E], *objdb.Set[E], *objdb.Dictionary[E]
// and *objdb.Results[E].
func (p *packageParser) collectionType(typ ast.Expr, imports map[string]string) (PropKind, ast.Expr, bool) {
	star, ok := typ.(*ast.StarExpr)
	if !ok {
		return 0, nil, false
	}
	ix, ok := star.X.(*ast.IndexExpr)
	if !ok {
		return 0, nil, false
	}
	for kind, name := range map[PropKind]string{List: "List", Set: "Set", Dictionary: "Dictionary", Backlink: "Results"} {
		if p.objdbRef(ix.X, imports, name) {
			return kind, ix.Index, true
		}
	}
	return 0, nil, false
}

// elemType classifies a property or element type: a scalar, a pointer to a
// scalar, or a pointer to a model of this package.
func (p *packageParser) elemType(typ ast.Expr, imports map[string]string) (k cell.Kind, nullable bool, target string, ok bool) {
	if star, isPtr := typ.(*ast.StarExpr); isPtr {
		if id, isIdent := star.X.(*ast.Ident); isIdent && p.pkg.Model(id.Name) != nil {
			return cell.KindLink, true, id.Name, true
		}
		k, ok = scalarKind(star.X, imports)
		return k, true, "", ok
	}
	k, ok = scalarKind(typ, imports)
	return k, false, "", ok
}

func scalarKind(typ ast.Expr, imports map[string]string) (cell.Kind, bool) {
	switch t := typ.(type) {
	case *ast.Ident:
		switch t.Name {
		case "bool":
			return cell.KindBool, true
		case "int", "int8", "int16", "int32", "int64", "uint8", "byte", "uint16", "uint32":
			return cell.KindInt, true
		case "float32":
			return cell.KindFloat, true
		case "float64":
			return cell.KindDouble, true
		case "string":
			return cell.KindString, true
		}
	case *ast.ArrayType:
		if id, ok := t.Elt.(*ast.Ident); ok && t.Len == nil && (id.Name == "byte" || id.Name == "uint8") {
			return cell.KindBinary, true
		}
	case *ast.SelectorExpr:
		id, ok := t.X.(*ast.Ident)
		if !ok {
			break
		}
		switch [2]string{imports[id.Name], t.Sel.Name} {
		case [2]string{timePath, "Time"}:
			return cell.KindTimestamp, true
		case [2]string{apdPath, "Decimal"}:
			return cell.KindDecimal, true
		case [2]string{cellPath, "ObjectID"}:
			return cell.KindObjectID, true
		case [2]string{uuidPath, "UUID"}:
			return cell.KindUUID, true
		}
	}
	return cell.KindNull, false
}

func (p *packageParser) recordImports(typ ast.Expr, imports map[string]string) {
	ast.Inspect(typ, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if id, ok := sel.X.(*ast.Ident); ok {
			if ipath := imports[id.Name]; ipath != "" && ipath != ObjdbPath {
				p.pkg.imports[id.Name] = ipath
			}
		}
		return false
	})
}

// checkModel validates what needs the whole package: primary key count,
// accessor collisions and backlink origins.
func (p *packageParser) checkModel(m *Model) {
	var primaries []string
	names := make(map[string]bool)
	methods := make(map[string]string)
	for _, prop := range m.Props {
		report := func(format string, args ...any) {
			p.problems = append(p.problems, Problem{Pos: prop.Pos, Type: m.Name, Field: prop.Name, Msg: fmt.Sprintf(format, args...)})
		}
		if prop.Primary {
			primaries = append(primaries, prop.Name)
		}
		if names[prop.Name] {
			report("duplicate property name")
		}
		names[prop.Name] = true

		accessors := []string{prop.Accessor}
		if prop.HasSetter() {
			accessors = append(accessors, "Set"+prop.Accessor)
		}
		for _, a := range accessors {
			if slices.Contains(objectMethods, a) {
				report("accessor %s collides with objdb.Object.%s; rename the property with a tag", a, a)
			} else if other, dup := methods[a]; dup {
				report("accessor %s is also generated for %s", a, other)
			}
			methods[a] = prop.Name
		}

		if prop.Kind == Backlink {
			if prop.OriginType != prop.Target {
				report("backlink element type %s does not match origin type %s", prop.Elem, prop.OriginType)
				continue
			}
			origin := p.pkg.Model(prop.OriginType)
			if origin == nil {
				report("origin type %s is not a model of this package", prop.OriginType)
				continue
			}
			op := origin.Prop(prop.OriginProp)
			if op == nil || op.Target != m.Name || op.Kind == Backlink || op.Kind == Dictionary {
				report("%s.%s is not a link or link list to %s", prop.OriginType, prop.OriginProp, m.Name)
			}
		}
	}
	if len(primaries) > 1 {
		p.problems = append(p.problems, Problem{Pos: m.Pos, Type: m.Name, Msg: fmt.Sprintf("multiple primary keys: %s", strings.Join(primaries, ", "))})
	}
}

func isPrimaryKeyKind(k cell.Kind) bool {
	switch k {
	case cell.KindInt, cell.KindString, cell.KindObjectID, cell.KindUUID:
		return true
	}
	return false
}

func isIndexable(k cell.Kind) bool {
	switch k {
	case cell.KindBool, cell.KindInt, cell.KindString, cell.KindTimestamp, cell.KindObjectID, cell.KindUUID:
		return true
	}
	return false
}
