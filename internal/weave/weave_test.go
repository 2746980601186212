package weave

import (
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/objdb"
	"github.com/andreyvit/objdb/cell"
)

const modelsSrc = `package models

import (
	"time"

	"github.com/andreyvit/objdb"
	"github.com/google/uuid"
)

type Person struct {
	objdb.Object
	name    string ` + "`objdb:\",indexed\"`" + `
	age     int64
	email   *string
	born    time.Time
	dog     *Dog
	friends *objdb.List[*Person]
	tags    *objdb.Set[string]
	scores  *objdb.Dictionary[float64]
	userID  uuid.UUID ` + "`objdb:\"user_id\"`" + `
	cache   string ` + "`objdb:\"-\"`" + `
	Visible bool
}

type Dog struct {
	objdb.Object
	id     string                  ` + "`objdb:\",primary\"`" + `
	owners *objdb.Results[*Person] ` + "`objdb:\",backlink=Person.dog\"`" + `
}

type notAModel struct {
	name string
}
`

func TestParse(t *testing.T) {
	pkg, err := ParseSource("models.go", []byte(modelsSrc))
	require.NoError(t, err)
	assert.Equal(t, "models", pkg.Name)
	require.Len(t, pkg.Models, 2)

	person := pkg.Model("Person")
	require.NotNil(t, person)
	var names []string
	for _, p := range person.Props {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"name", "age", "email", "born", "dog", "friends", "tags", "scores", "user_id"}, names)

	name := person.Prop("name")
	assert.Equal(t, Scalar, name.Kind)
	assert.True(t, name.Indexed)
	assert.Equal(t, "Name", name.Accessor)

	email := person.Prop("email")
	assert.True(t, email.Nullable)
	assert.Equal(t, "*string", email.GoType)

	dog := person.Prop("dog")
	assert.Equal(t, Link, dog.Kind)
	assert.Equal(t, "Dog", dog.Target)

	friends := person.Prop("friends")
	assert.Equal(t, List, friends.Kind)
	assert.Equal(t, "*Person", friends.Elem)
	assert.Equal(t, "Person", friends.Target)
	assert.False(t, friends.HasSetter())

	userID := person.Prop("user_id")
	assert.Equal(t, "userID", userID.Field)
	assert.Equal(t, "UserID", userID.Accessor)
	assert.Equal(t, cell.KindUUID, userID.kind)

	d := pkg.Model("Dog")
	assert.True(t, d.Prop("id").Primary)
	owners := d.Prop("owners")
	assert.Equal(t, Backlink, owners.Kind)
	assert.Equal(t, "Person", owners.OriginType)
	assert.Equal(t, "dog", owners.OriginProp)

	assert.Equal(t, map[string]string{"time": "time", "uuid": "github.com/google/uuid"}, pkg.imports)
}

func TestParseProblems(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		extra  string
		want   string
	}{
		{"unsupported type", "x map[string]int", "", "unsupported property type map[string]int"},
		{"unsupported element", "x *objdb.List[[]string]", "", "unsupported list element type []string"},
		{"required int", "x int `objdb:\",required\"`", "", "required is not valid on non-nullable type int"},
		{"required link", "x *M `objdb:\",required\"`", "", "links cannot be required"},
		{"two primary keys", "a string `objdb:\",primary\"`\nb int `objdb:\",primary\"`", "", "multiple primary keys: a, b"},
		{"float primary key", "x float64 `objdb:\",primary\"`", "", "float64 cannot be a primary key"},
		{"indexed float", "x float32 `objdb:\",indexed\"`", "", "float32 cannot be indexed"},
		{"backlink without origin", "x *objdb.Results[*M]", "", "backlinks need an origin"},
		{"backlink on scalar", "x string `objdb:\",backlink=M.y\"`", "", "backlink is only valid on objdb.Results fields"},
		{"backlink to missing property", "x *objdb.Results[*M] `objdb:\",backlink=M.nope\"`", "", "M.nope is not a link or link list to M"},
		{"binary set", "x *objdb.Set[[]byte]", "", "sets of binary values are not supported"},
		{"unknown option", "x string `objdb:\",fast\"`", "", `unknown option "fast"`},
		{"accessor collision", "key string", "", "accessor Key collides with objdb.Object.Key"},
		{"exported tagged field", "X string `objdb:\"x\"`", "", "persisted fields must be unexported"},
		{"pointer embedding", "", "type P struct { *objdb.Object }", "must embed objdb.Object by value"},
		{"generic model", "", "type G[T any] struct { objdb.Object }", "model types cannot be generic"},
		{"reserved name", "", "type _R struct { objdb.Object }", "type names starting with an underscore are reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "package m\n\nimport \"github.com/andreyvit/objdb\"\n\ntype M struct {\n\tobjdb.Object\n" + tt.fields + "\n}\n" + tt.extra + "\n"
			_, err := ParseSource("m.go", []byte(src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var werr *Error
			require.True(t, errors.As(err, &werr))
			assert.True(t, strings.HasPrefix(werr.Problems[0].String(), "m.go:"), werr.Problems[0].String())
		})
	}
}

func TestErrorUnwrapsModelErrors(t *testing.T) {
	src := `package m

import "github.com/andreyvit/objdb"

type A struct {
	objdb.Object
	x map[int]int
	y chan int
}

type B struct {
	objdb.Object
	z func()
}
`
	_, err := ParseSource("m.go", []byte(src))
	var me *objdb.ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "A", me.Type)

	mes := ModelErrors(err)
	require.Len(t, mes, 2)
	assert.Len(t, mes[0].Problems, 2)
	assert.Equal(t, "B", mes[1].Type)
	assert.Nil(t, ModelErrors(errors.New("other")))
}

func TestExportName(t *testing.T) {
	for in, want := range map[string]string{
		"name":      "Name",
		"id":        "ID",
		"firstName": "FirstName",
		"user_id":   "UserID",
		"ownerId":   "OwnerID",
		"homeURL":   "HomeURL",
		"api_key":   "APIKey",
	} {
		assert.Equal(t, want, exportName(in), in)
	}
}

func TestGenerate(t *testing.T) {
	pkg, err := ParseSource("models.go", []byte(modelsSrc))
	require.NoError(t, err)
	src, err := Generate(pkg, GenerateOptions{Schema: "AppSchema"})
	require.NoError(t, err)
	out := string(src)

	for _, want := range []string{
		"// Code generated by objdbgen. DO NOT EDIT.",
		"package models",
		`"github.com/andreyvit/objdb"`,
		`"github.com/google/uuid"`,
		`"time"`,
		`_ = objdb.DefineModel(AppSchema, "Person", func(b *objdb.ModelBuilder[Person]) {`,
		`objdb.Field(b, "name", func(p *Person) *string { return &p.name }, objdb.Indexed)`,
		`objdb.ListField(b, "friends", func(p *Person) **objdb.List[*Person] { return &p.friends })`,
		`objdb.Field(b, "user_id", func(p *Person) *uuid.UUID { return &p.userID })`,
		`objdb.BacklinkField(b, "owners", "Person", "dog", func(d *Dog) **objdb.Results[*Person] { return &d.owners })`,
		`objdb.Field(b, "id", func(d *Dog) *string { return &d.id }, objdb.PrimaryKey)`,
		`func (p *Person) Dog() *Dog { return objdb.Get(p, "dog", &p.dog) }`,
		`func (p *Person) SetDog(v *Dog) { objdb.Set(p, "dog", &p.dog, v) }`,
		`func (p *Person) UserID() uuid.UUID { return objdb.Get(p, "user_id", &p.userID) }`,
		`func (p *Person) Tags() *objdb.Set[string] { return objdb.SetProperty(p, "tags", &p.tags) }`,
		`func (d *Dog) Owners() *objdb.Results[*Person] { return objdb.BacklinkProperty(d, "owners", &d.owners) }`,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "SetFriends")
	assert.NotContains(t, out, "SetOwners")
	assert.NotContains(t, out, "cache")

	_, err = parser.ParseFile(token.NewFileSet(), "gen.go", src, 0)
	assert.NoError(t, err)
}

func TestGenerateInsideObjdb(t *testing.T) {
	src := `package objdb

type Note struct {
	Object
	text string
	tags *List[string]
}
`
	pkg, err := ParseSource("note.go", []byte(src))
	require.NoError(t, err)
	out, err := Generate(pkg, GenerateOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(out), `_ = DefineModel(Schema, "Note", func(b *ModelBuilder[Note]) {`)
	assert.Contains(t, string(out), `func (n *Note) Tags() *List[string] { return ListProperty(n, "tags", &n.tags) }`)
	assert.NotContains(t, string(out), "import")
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	write("person.go", "package m\n\nimport \"github.com/andreyvit/objdb\"\n\ntype Person struct {\n\tobjdb.Object\n\tpet *Pet\n}\n")
	write("pet.go", "package m\n\nimport \"github.com/andreyvit/objdb\"\n\ntype Pet struct {\n\tobjdb.Object\n\tname string\n}\n")
	write("objdb_gen.go", "package m\n\nthis is not Go\n")
	write("person_test.go", "package m_test\n")

	pkg, err := ParseDir(dir, func(name string) bool { return name == "objdb_gen.go" })
	require.NoError(t, err)
	require.Len(t, pkg.Models, 2)
	assert.Equal(t, "Pet", pkg.Model("Person").Prop("pet").Target)

	_, err = ParseDir(t.TempDir(), nil)
	assert.Error(t, err)
}
