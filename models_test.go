package objdb

// Hand-written equivalents of what objdbgen produces for the test models.

var testSchema = NewSchema()

type Person struct {
	Object
	name    string
	age     int64
	email   *string
	dog     *Dog
	tags    *List[string]
	friends *List[*Person]
	scores  *Dictionary[int64]
	labels  *Set[string]
}

type Dog struct {
	Object
	id     string
	name   string
	owners *Results[*Person]
}

type Note struct {
	Object
	text string
}

var (
	_ = DefineModel(testSchema, "Person", func(b *ModelBuilder[Person]) {
		Field(b, "name", func(p *Person) *string { return &p.name }, Indexed)
		Field(b, "age", func(p *Person) *int64 { return &p.age })
		Field(b, "email", func(p *Person) **string { return &p.email })
		Field(b, "dog", func(p *Person) **Dog { return &p.dog })
		ListField(b, "tags", func(p *Person) **List[string] { return &p.tags })
		ListField(b, "friends", func(p *Person) **List[*Person] { return &p.friends })
		DictionaryField(b, "scores", func(p *Person) **Dictionary[int64] { return &p.scores })
		SetField(b, "labels", func(p *Person) **Set[string] { return &p.labels })
	})
	_ = DefineModel(testSchema, "Dog", func(b *ModelBuilder[Dog]) {
		Field(b, "id", func(d *Dog) *string { return &d.id }, PrimaryKey)
		Field(b, "name", func(d *Dog) *string { return &d.name })
		BacklinkField(b, "owners", "Person", "dog", func(d *Dog) **Results[*Person] { return &d.owners })
	})
	_ = DefineModel(testSchema, "Note", func(b *ModelBuilder[Note]) {
		Field(b, "text", func(n *Note) *string { return &n.text })
	})
)

func (p *Person) Name() string { return Get(p, "name", &p.name) }
func (p *Person) SetName(v string) { Set(p, "name", &p.name, v) }
func (p *Person) Age() int64 { return Get(p, "age", &p.age) }
func (p *Person) SetAge(v int64) { Set(p, "age", &p.age, v) }
func (p *Person) Email() *string { return Get(p, "email", &p.email) }
func (p *Person) SetEmail(v *string) { Set(p, "email", &p.email, v) }
func (p *Person) Dog() *Dog { return Get(p, "dog", &p.dog) }
func (p *Person) SetDog(v *Dog) { Set(p, "dog", &p.dog, v) }
func (p *Person) Tags() *List[string] { return ListProperty(p, "tags", &p.tags) }
func (p *Person) Friends() *List[*Person] { return ListProperty(p, "friends", &p.friends) }
func (p *Person) Scores() *Dictionary[int64] { return DictionaryProperty(p, "scores", &p.scores) }
func (p *Person) Labels() *Set[string] { return SetProperty(p, "labels", &p.labels) }
func (d *Dog) ID() string { return Get(d, "id", &d.id) }
func (d *Dog) SetID(v string) { Set(d, "id", &d.id, v) }
func (d *Dog) Name() string { return Get(d, "name", &d.name) }
func (d *Dog) SetName(v string) { Set(d, "name", &d.name, v) }
func (d *Dog) Owners() *Results[*Person] { return BacklinkProperty(d, "owners", &d.owners) }
func (n *Note) Text() string { return Get(n, "text", &n.text) }
func (n *Note) SetText(v string) { Set(n, "text", &n.text, v) }

func strptr(s string) *string { return &s }

func newPerson(name string, age int64) *Person {
	p := &Person{}
	p.SetName(name)
	p.SetAge(age)
	return p
}

func newDog(id, name string) *Dog {
	d := &Dog{}
	d.SetID(id)
	d.SetName(name)
	return d
}
