package weave

import (
	"bytes"
	"fmt"
	"go/format"
	"path"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type GenerateOptions struct {
	// Schema is the expression the models are registered with. Defaults to
	// "Schema", a package-level *objdb.Schema.
	Schema string

	// Generator names the tool in the "Code generated" header.
	Generator string
}

var initialisms = map[string]string{
	"id": "ID", "url": "URL", "uri": "URI", "uuid": "UUID", "api": "API",
	"http": "HTTP", "json": "JSON", "xml": "XML", "html": "HTML", "ip": "IP", "sql": "SQL",
}

// exportName turns a property name into an accessor name: userID and
// user_id both become UserID.
func exportName(name string) string {
	titleCaser := cases.Title(language.Und, cases.NoLower)
	var buf strings.Builder
	for _, word := range strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' }) {
		if up, ok := initialisms[strings.ToLower(word)]; ok {
			buf.WriteString(up)
			continue
		}
		w := titleCaser.String(word)
		for lower, up := range initialisms {
			suffix := titleCaser.String(lower)
			if strings.HasSuffix(w, suffix) && len(w) > len(suffix) {
				w = w[:len(w)-len(suffix)] + up
				break
			}
		}
		buf.WriteString(w)
	}
	return buf.String()
}

type importLine struct {
	Alias string
	Path  string
}

type genModel struct {
	*Model
	Recv  string
	Param string
}

type genData struct {
	Generator string
	Package   string
	Schema    string
	Imports   []importLine
	Models    []genModel
}

// Generate renders the registration and accessors of every model in pkg as
// a formatted Go file.
func Generate(pkg *Package, opt GenerateOptions) ([]byte, error) {
	if opt.Schema == "" {
		opt.Schema = "Schema"
	}
	if opt.Generator == "" {
		opt.Generator = "objdbgen"
	}
	q := ""
	data := genData{Generator: opt.Generator, Package: pkg.Name, Schema: opt.Schema}
	if pkg.Name != "objdb" {
		qual := pkg.qual
		if qual == "" {
			qual = "objdb"
		}
		q = qual + "."
		data.Imports = append(data.Imports, aliasedImport(qual, ObjdbPath))
	}
	for alias, ipath := range pkg.imports {
		data.Imports = append(data.Imports, aliasedImport(alias, ipath))
	}
	sort.Slice(data.Imports, func(i, j int) bool { return data.Imports[i].Path < data.Imports[j].Path })

	for _, m := range pkg.Models {
		recv := strings.ToLower(m.Name[:1])
		param := "v"
		if recv == "v" {
			param = "val"
		}
		if recv == "b" {
			recv = "m"
		}
		data.Models = append(data.Models, genModel{Model: m, Recv: recv, Param: param})
	}

	tmpl := template.Must(template.New("accessors").Funcs(template.FuncMap{
		"q":       func() string { return q },
		"declare": func(m genModel, p *Prop) string { return declare(q, m, p) },
		"getter":  func(m genModel, p *Prop) string { return getter(q, m, p) },
	}).Parse(accessorsTemplate))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return buf.Bytes(), fmt.Errorf("formatting generated code: %w", err)
	}
	return src, nil
}

func aliasedImport(alias, ipath string) importLine {
	if defaultAlias(ipath) == alias || path.Base(ipath) == alias {
		alias = ""
	}
	return importLine{Alias: alias, Path: ipath}
}

func declare(q string, m genModel, p *Prop) string {
	ptr := fmt.Sprintf("func(%s *%s) *%s { return &%s.%s }", m.Recv, m.Name, p.GoType, m.Recv, p.Field)
	var opts []string
	if p.Primary {
		opts = append(opts, q+"PrimaryKey")
	}
	if p.Indexed {
		opts = append(opts, q+"Indexed")
	}
	if p.Required {
		opts = append(opts, q+"Required")
	}
	args := []string{"b", fmt.Sprintf("%q", p.Name)}
	var fn string
	switch p.Kind {
	case Scalar, Link:
		fn = "Field"
	case List:
		fn = "ListField"
	case Set:
		fn = "SetField"
	case Dictionary:
		fn = "DictionaryField"
	case Backlink:
		fn = "BacklinkField"
		args = append(args, fmt.Sprintf("%q", p.OriginType), fmt.Sprintf("%q", p.OriginProp))
	}
	args = append(args, ptr)
	args = append(args, opts...)
	return q + fn + "(" + strings.Join(args, ", ") + ")"
}

func getter(q string, m genModel, p *Prop) string {
	var fn string
	switch p.Kind {
	case Scalar, Link:
		fn = "Get"
	case List:
		fn = "ListProperty"
	case Set:
		fn = "SetProperty"
	case Dictionary:
		fn = "DictionaryProperty"
	case Backlink:
		fn = "BacklinkProperty"
	}
	return fmt.Sprintf("%s%s(%s, %q, &%s.%s)", q, fn, m.Recv, p.Name, m.Recv, p.Field)
}

const accessorsTemplate = `// Code generated by {{.Generator}}. DO NOT EDIT.

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	{{if .Alias}}{{.Alias}} {{end}}"{{.Path}}"
{{- end}}
)
{{end}}
var (
{{- range $m := .Models}}
	_ = {{q}}DefineModel({{$.Schema}}, "{{$m.Name}}", func(b *{{q}}ModelBuilder[{{$m.Name}}]) {
	{{- range $m.Props}}
		{{declare $m .}}
	{{- end}}
	})
{{- end}}
)
{{range $m := .Models}}
{{- range $m.Props}}
func ({{$m.Recv}} *{{$m.Name}}) {{.Accessor}}() {{.GoType}} { return {{getter $m .}} }
{{- if .HasSetter}}
func ({{$m.Recv}} *{{$m.Name}}) Set{{.Accessor}}({{$m.Param}} {{.GoType}}) { {{q}}Set({{$m.Recv}}, "{{.Name}}", &{{$m.Recv}}.{{.Field}}, {{$m.Param}}) }
{{- end}}
{{- end}}
{{end}}`
