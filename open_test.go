package objdb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/objdb/cell"
)

// testSchemaV2 is the next version of the Person table of testSchema.
var testSchemaV2 = NewSchema()

type PersonV2 struct {
	Object
	name     string
	nickname string
	age      int64
}

var _ = DefineModel(testSchemaV2, "Person", func(b *ModelBuilder[PersonV2]) {
	Field(b, "name", func(p *PersonV2) *string { return &p.name }, Indexed)
	Field(b, "age", func(p *PersonV2) *int64 { return &p.age })
	Field(b, "nickname", func(p *PersonV2) *string { return &p.nickname })
})

func (p *PersonV2) Name() string     { return Get(p, "name", &p.name) }
func (p *PersonV2) Age() int64       { return Get(p, "age", &p.age) }
func (p *PersonV2) Nickname() string { return Get(p, "nickname", &p.nickname) }

func seedPeople(t *testing.T, path string, opt Options, people ...*Person) {
	t.Helper()
	db := setupAt(t, path, testSchema, opt)
	addPeople(t, db, people...)
	ok(t, db.Close())
}

func TestReopen(t *testing.T) {
	path := tempPath(t)
	seedPeople(t, path, Options{}, newPerson("Alice", 30), newPerson("Bob", 25))

	db := setupAt(t, path, testSchema, Options{})
	deepEqual(t, names(must(All[*Person](db)).Items()), []string{"Alice", "Bob"})
	if v, err := db.Version(); err != nil || v == 0 {
		t.Errorf("Version = %d, %v", v, err)
	}
	if a := db.Path(); a != path {
		t.Errorf("Path = %q", a)
	}

	// a second instance on the same file shares the schema
	db2 := setupAt(t, path, testSchema, Options{})
	if db2.Schema() != db.Schema() {
		t.Errorf("instances of one file got different schemas")
	}
	_, err := Open(path, testSchemaV2, Options{IsTesting: true})
	isErr(t, err, ErrSchemaMismatch)
	_, err = Open(path, testSchema, Options{IsTesting: true, SchemaVersion: 1})
	isErr(t, err, ErrSchemaMismatch)
	_, err = Open(path, nil, Options{})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("Open(nil schema) = %v, wanted a *ConfigError", err)
	}
}

func TestMigration(t *testing.T) {
	path := tempPath(t)
	seedPeople(t, path, Options{}, newPerson("Alice", 30), newPerson("Bob", 25))

	_, err := Open(path, testSchemaV2, Options{IsTesting: true})
	isErr(t, err, ErrSchemaMismatch)
	var se *SchemaError
	if !errors.As(err, &se) || !strings.Contains(se.Error(), "must be increased") {
		t.Errorf("Open with the same version = %v", err)
	}

	_, err = Open(path, testSchemaV2, Options{IsTesting: true, SchemaVersion: 1})
	isErr(t, err, ErrSchemaMismatch)

	var calls int
	migrate := func(m *Migration) error {
		calls++
		if m.OldVersion != 0 || m.NewVersion != 1 {
			return fmt.Errorf("versions %d -> %d", m.OldVersion, m.NewVersion)
		}
		olds, err := m.OldObjects("Person")
		if err != nil {
			return err
		}
		if len(olds) != 2 {
			return fmt.Errorf("got %d old objects", len(olds))
		}
		return m.Enumerate("Person", func(old, new *DynamicObject) error {
			name, err := old.Get("name")
			if err != nil {
				return err
			}
			s, err := cell.To[string](name)
			if err != nil {
				return err
			}
			return new.Set("nickname", cell.StringValue(strings.ToLower(s)))
		})
	}
	db := setupAt(t, path, testSchemaV2, Options{SchemaVersion: 1, Migration: migrate})
	if calls != 1 {
		t.Errorf("migration ran %d times", calls)
	}
	if a := db.SchemaVersion(); a != 1 {
		t.Errorf("SchemaVersion = %d", a)
	}
	people := must(All[*PersonV2](db)).Items()
	if len(people) != 2 {
		t.Fatalf("got %d people after migration", len(people))
	}
	for i, e := range []struct {
		name, nick string
		age        int64
	}{{"Alice", "alice", 30}, {"Bob", "bob", 25}} {
		p := people[i]
		if p.Name() != e.name || p.Nickname() != e.nick || p.Age() != e.age {
			t.Errorf("people[%d] = %s/%s/%d, wanted %s/%s/%d", i, p.Name(), p.Nickname(), p.Age(), e.name, e.nick, e.age)
		}
	}
	res, err := Where[*PersonV2](db, "name", "Bob")
	ok(t, err)
	if n := res.Len(); n != 1 {
		t.Errorf("index lookup after migration found %d", n)
	}
	ok(t, db.Close())

	_, err = Open(path, testSchemaV2, Options{IsTesting: true})
	isErr(t, err, ErrSchemaMismatch)
	db = setupAt(t, path, testSchemaV2, Options{SchemaVersion: 1, Migration: migrate})
	if calls != 1 {
		t.Errorf("migration ran again on an up-to-date file")
	}
	ok(t, db.Close())

	// tables left out of the new schema are dropped
	dyn, err := OpenDynamic(path, Options{IsTesting: true})
	ok(t, err)
	defer dyn.Close()
	if tbl := dyn.Schema().Table("Dog"); tbl != nil {
		t.Errorf("Dog survived the migration")
	}
	if dyn.SchemaVersion() != 1 {
		t.Errorf("stored schema version = %d", dyn.SchemaVersion())
	}
}

func TestFailedMigrationKeepsFile(t *testing.T) {
	path := tempPath(t)
	seedPeople(t, path, Options{}, newPerson("Alice", 30))

	boom := errors.New("boom")
	_, err := Open(path, testSchemaV2, Options{IsTesting: true, SchemaVersion: 1, Migration: func(m *Migration) error {
		return boom
	}})
	isErr(t, err, boom)

	db := setupAt(t, path, testSchema, Options{})
	deepEqual(t, names(must(All[*Person](db)).Items()), []string{"Alice"})
}

func TestDeleteIfMigrationNeeded(t *testing.T) {
	path := tempPath(t)
	seedPeople(t, path, Options{}, newPerson("Alice", 30))

	db := setupAt(t, path, testSchemaV2, Options{DeleteIfMigrationNeeded: true})
	if n := must(All[*PersonV2](db)).Len(); n != 0 {
		t.Errorf("Len = %d after the file was wiped", n)
	}
}

func TestVersionBumpNeedsMigration(t *testing.T) {
	path := tempPath(t)
	seedPeople(t, path, Options{SchemaVersion: 1}, newPerson("Alice", 30))

	_, err := Open(path, testSchema, Options{IsTesting: true, SchemaVersion: 2})
	isErr(t, err, ErrSchemaMismatch)
	var se *SchemaError
	if !errors.As(err, &se) || !strings.Contains(se.Error(), "a migration is required") {
		t.Errorf("Open at version 2 without a migration = %v", err)
	}

	db := setupAt(t, path, testSchema, Options{SchemaVersion: 1})
	deepEqual(t, names(must(All[*Person](db)).Items()), []string{"Alice"})
	ok(t, db.Close())

	db = setupAt(t, path, testSchemaV2, Options{SchemaVersion: 2, DeleteIfMigrationNeeded: true})
	if n := must(All[*PersonV2](db)).Len(); n != 0 {
		t.Errorf("Len = %d after the file was wiped", n)
	}
	if v := db.SchemaVersion(); v != 2 {
		t.Errorf("SchemaVersion = %d, wanted 2", v)
	}
	ok(t, db.Close())

	db = setupAt(t, path, testSchemaV2, Options{SchemaVersion: 2})
	if v := db.SchemaVersion(); v != 2 {
		t.Errorf("SchemaVersion = %d after reopening, wanted 2", v)
	}
	ok(t, db.Close())

	dyn, err := OpenDynamic(path, Options{IsTesting: true})
	ok(t, err)
	defer dyn.Close()
	if v := dyn.SchemaVersion(); v != 2 {
		t.Errorf("stored schema version = %d, wanted 2", v)
	}
}

func TestEncryption(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, EncryptionKeySize)
	path := tempPath(t)

	db := setupAt(t, path, testSchema, Options{EncryptionKey: key})
	write(t, db, func(tx *Tx) {
		n := &Note{}
		n.SetText("attack at dawn")
		ok(t, db.Add(n))
	})
	ok(t, db.Close())

	raw, err := os.ReadFile(path)
	ok(t, err)
	if bytes.Contains(raw, []byte("attack at dawn")) {
		t.Errorf("row data is stored in plain text")
	}

	for name, k := range map[string][]byte{
		"wrong":   bytes.Repeat([]byte{0x43}, EncryptionKeySize),
		"missing": nil,
		"short":   key[:32],
	} {
		_, err := Open(path, testSchema, Options{IsTesting: true, EncryptionKey: k})
		if !errors.Is(err, ErrInvalidEncryptionKey) {
			t.Errorf("%s key: got %v, wanted %v", name, err, ErrInvalidEncryptionKey)
		}
	}

	db = setupAt(t, path, testSchema, Options{EncryptionKey: key})
	notes := must(All[*Note](db)).Items()
	if len(notes) != 1 || notes[0].Text() != "attack at dawn" {
		t.Errorf("notes = %v", notes)
	}
	_, err = Open(path, testSchema, Options{IsTesting: true})
	isErr(t, err, ErrInvalidEncryptionKey)

	plain := tempPath(t)
	seedPeople(t, plain, Options{}, newPerson("Alice", 30))
	_, err = Open(plain, testSchema, Options{IsTesting: true, EncryptionKey: key})
	isErr(t, err, ErrInvalidEncryptionKey)
}

func TestReadOnly(t *testing.T) {
	path := tempPath(t)
	seedPeople(t, path, Options{}, newPerson("Alice", 30))

	db := setupAt(t, path, testSchema, Options{ReadOnly: true})
	deepEqual(t, names(must(All[*Person](db)).Items()), []string{"Alice"})
	_, err := db.BeginWrite()
	isErr(t, err, ErrReadOnly)
	err = db.Write(func(tx *Tx) error { return nil })
	isErr(t, err, ErrReadOnly)

	// while open, other schemas are rejected before touching the file
	_, err = Open(path, testSchemaV2, Options{IsTesting: true, ReadOnly: true})
	isErr(t, err, ErrSchemaMismatch)
	ok(t, db.Close())

	_, err = Open(path, testSchemaV2, Options{IsTesting: true, ReadOnly: true, SchemaVersion: 1, DeleteIfMigrationNeeded: true})
	isErr(t, err, ErrReadOnly)
}

func TestInMemory(t *testing.T) {
	name := t.Name()
	opt := Options{InMemory: true}
	db1 := setupAt(t, name, testSchema, opt)
	db2 := setupAt(t, name, testSchema, opt)

	addPeople(t, db1, newPerson("Alice", 30))
	ok(t, db2.Refresh())
	deepEqual(t, names(must(All[*Person](db2)).Items()), []string{"Alice"})
	if size, err := db1.Size(); err != nil || size <= 0 {
		t.Errorf("Size = %d, %v", size, err)
	}

	// another store with the same name on disk is unrelated
	if _, err := os.Stat(name); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("in-memory store touched the file system: %v", err)
	}

	ok(t, db1.Close())
	deepEqual(t, names(must(All[*Person](db2)).Items()), []string{"Alice"})
	ok(t, db2.Close())

	db3 := setupAt(t, name, testSchema, opt)
	if n := must(All[*Person](db3)).Len(); n != 0 {
		t.Errorf("Len = %d after the last instance closed", n)
	}

	err := Compact(name, opt)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("Compact(in-memory) = %v, wanted a *ConfigError", err)
	}
}

func TestCompact(t *testing.T) {
	path := tempPath(t)
	db := setupAt(t, path, testSchema, Options{})
	write(t, db, func(tx *Tx) {
		for i := range 200 {
			p := newPerson(fmt.Sprintf("person %03d", i), int64(i))
			p.Tags().Append(strings.Repeat("x", 200))
			ok(t, db.Add(p))
		}
	})
	write(t, db, func(tx *Tx) {
		for _, p := range must(Where[*Person](db, "age", int64(7))).Items() {
			ok(t, db.Remove(p))
		}
		ok(t, RemoveAll[*Note](db))
	})
	write(t, db, func(tx *Tx) {
		for _, p := range must(All[*Person](db)).Items() {
			if p.Age() >= 10 {
				ok(t, db.Remove(p))
			}
		}
	})

	isErr(t, Compact(path, Options{}), ErrFileInUse)
	ok(t, db.Close())

	before, err := os.Stat(path)
	ok(t, err)
	ok(t, Compact(path, Options{IsTesting: true}))
	after, err := os.Stat(path)
	ok(t, err)
	if after.Size() > before.Size() {
		t.Errorf("compaction grew the file from %d to %d", before.Size(), after.Size())
	}

	db = setupAt(t, path, testSchema, Options{})
	people := must(All[*Person](db)).Items()
	if len(people) != 9 || people[0].Name() != "person 000" {
		t.Errorf("got %v after compaction", names(people))
	}
	if n := must(Where[*Person](db, "name", "person 003")).Len(); n != 1 {
		t.Errorf("index lookup after compaction found %d", n)
	}

	isErr(t, Compact(filepath.Join(t.TempDir(), "missing.db"), Options{}), os.ErrNotExist)
}

func TestConfig(t *testing.T) {
	hexKey := strings.Repeat("ab", EncryptionKeySize)
	cfg, err := ParseConfig("objdb.json", []byte(`{
		// where the data lives
		"path": "data/app.db",
		"schema_version": 3,
		"lock_timeout": "2s",
		"encryption_key": "`+hexKey+`",
		"notifier_workers": 2,
		"verbose": true,
	}`))
	ok(t, err)
	deepEqual(t, *cfg, Config{
		Path:            "data/app.db",
		SchemaVersion:   3,
		LockTimeout:     "2s",
		EncryptionKey:   hexKey,
		NotifierWorkers: 2,
		Verbose:         true,
	})

	opt, err := cfg.Options()
	ok(t, err)
	if opt.SchemaVersion != 3 || opt.LockTimeout != 2*time.Second || opt.NotifierWorkers != 2 || !opt.Verbose {
		t.Errorf("Options = %+v", opt)
	}
	if !bytes.Equal(opt.EncryptionKey, bytes.Repeat([]byte{0xab}, EncryptionKeySize)) {
		t.Errorf("EncryptionKey = %x", opt.EncryptionKey)
	}

	_, err = ParseConfig("bad.json", []byte(`{"encryption_key": "abcd"}`))
	isErr(t, err, ErrInvalidEncryptionKey)
	_, err = ParseConfig("bad.json", []byte(`{"lock_timeout": "soon"}`))
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Path != "bad.json" {
		t.Errorf("bad lock_timeout: got %v", err)
	}
	_, err = ParseConfig("bad.json", []byte(`{"path": `))
	if !errors.As(err, &ce) {
		t.Errorf("bad syntax: got %v", err)
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "objdb.json")
	ok(t, os.WriteFile(cfgPath, []byte(`{"path": "x.db", "in_memory": true}`), 0o644))
	cfg, err = LoadConfig(cfgPath)
	ok(t, err)
	if cfg.Path != "x.db" || !cfg.InMemory {
		t.Errorf("LoadConfig = %+v", cfg)
	}
	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	isErr(t, err, os.ErrNotExist)
}

func TestDynamicAccess(t *testing.T) {
	path := tempPath(t)
	db := setupAt(t, path, testSchema, Options{})
	rex := newDog("rex", "Rex")
	alice := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(rex))
		alice.SetDog(rex)
		alice.Tags().Append("a", "b")
		ok(t, db.Add(alice))
	})
	ok(t, db.Close())

	dyn, err := OpenDynamic(path, Options{IsTesting: true})
	ok(t, err)
	t.Cleanup(func() { dyn.Close() })

	if tbl := dyn.Schema().Table("Dog"); tbl == nil || tbl.PrimaryKey() == nil || tbl.PrimaryKey().Name != "id" {
		t.Fatalf("stored schema lost the Dog primary key")
	}
	_, err = Open(path, testSchema, Options{IsTesting: true})
	isErr(t, err, ErrSchemaMismatch)

	people := must(dyn.DynamicAll("Person")).Items()
	if len(people) != 1 {
		t.Fatalf("got %d people", len(people))
	}
	p := people[0]
	name, err := p.Get("name")
	ok(t, err)
	if !cell.Equal(name, cell.StringValue("Alice")) {
		t.Errorf("name = %v", name)
	}
	dog, err := p.Link("dog")
	ok(t, err)
	if dog == nil || !cell.Equal(must(dog.Get("id")), cell.StringValue("rex")) {
		t.Errorf("dog = %v", dog)
	}
	tags, err := p.ListOf("tags")
	ok(t, err)
	if items := tags.Items(); len(items) != 2 || !cell.Equal(items[1], cell.StringValue("b")) {
		t.Errorf("tags = %v", items)
	}

	d, found, err := dyn.DynamicFind("Dog", cell.StringValue("rex"))
	ok(t, err)
	if !found {
		t.Fatalf("DynamicFind(rex) found nothing")
	}
	owners, err := d.BacklinksOf("owners")
	ok(t, err)
	if n := owners.Len(); n != 1 {
		t.Errorf("owners = %d", n)
	}
	_, found, err = dyn.DynamicFind("Dog", cell.StringValue("fido"))
	if err != nil || found {
		t.Errorf("DynamicFind(fido) = %v, %v", found, err)
	}

	write(t, dyn, func(tx *Tx) {
		bob, err := dyn.DynamicCreate("Person", map[string]cell.Value{
			"name": cell.StringValue("Bob"),
			"age":  cell.IntValue(25),
		})
		ok(t, err)
		ok(t, bob.SetLink("dog", d))
		values, err := bob.Values()
		ok(t, err)
		if !cell.Equal(values["age"], cell.IntValue(25)) || !cell.Equal(values["dog"], cell.LinkValue("Dog", uint64(d.Key()))) {
			t.Errorf("Values = %v", values)
		}
		if !cell.Equal(values["email"], cell.Null) {
			t.Errorf("email = %v", values["email"])
		}

		_, err = dyn.DynamicCreate("Dog", map[string]cell.Value{"id": cell.StringValue("rex")})
		isErr(t, err, ErrDuplicatePrimaryKey)
		_, err = dyn.DynamicCreate("Cat", nil)
		isErr(t, err, ErrUnknownType)
	})
	if n := owners.Len(); n != 2 {
		t.Errorf("owners = %d after adding Bob", n)
	}

	write(t, dyn, func(tx *Tx) {
		ok(t, dyn.DynamicRemoveAll("Dog"))
	})
	if v := must(p.Get("dog")); !v.IsNull() {
		t.Errorf("dog = %v after its table was emptied", v)
	}
}

func TestCreateObjectWithoutPrimaryKey(t *testing.T) {
	db := setup(t, testSchema)
	write(t, db, func(tx *Tx) {
		_, err := db.CreateObject("Dog")
		ok(t, err)
		n, err := db.CreateObject("Note")
		ok(t, err)
		ok(t, n.Set("text", cell.StringValue("hi")))
	})
	if n := must(All[*Dog](db)).Len(); n != 0 {
		t.Errorf("dog without a primary key was kept")
	}
	if n := must(All[*Note](db)).Len(); n != 1 {
		t.Errorf("Notes = %d", n)
	}
	_, err := db.CreateObject("Note")
	isErr(t, err, ErrNotInWriteTransaction)
}

func TestHandles(t *testing.T) {
	db := setup(t, testSchema)
	if n := db.LiveHandles(HandleTx); n != 0 {
		t.Errorf("%d transaction handles before any write", n)
	}
	write(t, db, func(tx *Tx) {
		if n := db.LiveHandles(HandleTx); n != 1 {
			t.Errorf("%d transaction handles inside a write", n)
		}
	})
	if n := db.LiveHandles(HandleTx); n != 0 {
		t.Errorf("%d transaction handles after commit", n)
	}

	th, err := db.GetOrCreateTable("Person")
	ok(t, err)
	if th.Name() != "Person" || !th.IsValid() {
		t.Errorf("Person handle = %q, valid %v", th.Name(), th.IsValid())
	}
	_, err = db.GetOrCreateTable("Extra")
	isErr(t, err, ErrNotInWriteTransaction)
	_, err = db.GetOrCreateTable("_meta")
	isErr(t, err, ErrUnknownType)

	var extra *TableHandle
	write(t, db, func(tx *Tx) {
		extra, err = db.GetOrCreateTable("Extra")
		ok(t, err)
	})
	if extra.Key() == th.Key() {
		t.Errorf("Extra and Person share key %d", th.Key())
	}
	byKey := db.TableByKey(extra.Key())
	if !byKey.IsValid() || byKey.Name() != "Extra" {
		t.Errorf("TableByKey = %q, valid %v", byKey.Name(), byKey.IsValid())
	}
	if db.TableByKey(9999).IsValid() {
		t.Errorf("TableByKey(9999) is valid")
	}

	alice, bob := newPerson("Alice", 30), newPerson("Bob", 25)
	addPeople(t, db, alice, bob)
	if n, err := th.Count(); err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
	rh, err := ObjectOf(bob).Handle()
	ok(t, err)
	if i, err := rh.Index(); err != nil || i != 1 {
		t.Errorf("Index = %d, %v", i, err)
	}
	write(t, db, func(tx *Tx) {
		ok(t, db.Remove(alice))
	})
	if i, err := rh.Index(); err != nil || i != 0 {
		t.Errorf("Index = %d, %v after removing an earlier row", i, err)
	}
	write(t, db, func(tx *Tx) {
		ok(t, db.Remove(bob))
	})
	if rh.IsAttached() || rh.IsValid() {
		t.Errorf("row handle survived the removal of its row")
	}
	_, err = rh.Index()
	isErr(t, err, ErrInvalidatedObject)

	th.Release()
	if th.IsValid() {
		t.Errorf("table handle is valid after Release")
	}
	_, err = th.Count()
	isErr(t, err, ErrInvalidatedObject)

	ok(t, db.Close())
	if n := db.LiveHandles(0); n != 0 {
		t.Errorf("%d handles survived Close", n)
	}
}

func TestDumpAndStats(t *testing.T) {
	db := setup(t, testSchema)
	alice := newPerson("Alice", 30)
	alice.Tags().Append("a")
	addPeople(t, db, alice, newPerson("Bob", 25))

	s, err := db.Dump(DumpAll)
	ok(t, err)
	for _, e := range []string{"Person (2 rows)", "Dog (0 rows)", `"name":"Alice"`, "Person.i.p:name"} {
		if !strings.Contains(s, e) {
			t.Errorf("Dump lacks %q:\n%s", e, s)
		}
	}

	rows, err := db.DumpRows("Person")
	ok(t, err)
	if len(rows) != 2 {
		t.Fatalf("DumpRows = %d rows", len(rows))
	}
	deepEqual(t, rows[0].Values["name"], any("Alice"))
	deepEqual(t, rows[0].Values["age"], any(int64(30)))
	deepEqual(t, rows[0].Values["tags"], any([]any{"a"}))
	deepEqual(t, rows[0].Values["dog"], any(nil))
	_, err = db.DumpRows("Cat")
	isErr(t, err, ErrUnknownType)

	ts, err := db.TableStats("Person")
	ok(t, err)
	if ts.Table != "Person" || ts.Rows != 2 || ts.IndexRows < 2 || ts.TotalAlloc() <= 0 {
		t.Errorf("TableStats = %+v", ts)
	}
	all, err := db.Stats()
	ok(t, err)
	if len(all) != 3 || all[1].Table != "Dog" {
		t.Errorf("Stats = %+v", all)
	}
	if size, err := db.Size(); err != nil || size <= 0 {
		t.Errorf("Size = %d, %v", size, err)
	}
}

func TestDescribeSchema(t *testing.T) {
	s := testSchema.String()
	for _, e := range []string{
		"Person\n",
		"  name string indexed\n",
		"  email string?\n",
		"  dog Dog\n",
		"  tags list<string>\n",
		"  friends list<Person>\n",
		"  scores dictionary<int>\n",
		"  labels set<string>\n",
		"Dog (primary key id)\n",
		"  owners backlinks<Person.dog>\n",
	} {
		if !strings.Contains(s, e) {
			t.Errorf("schema dump lacks %q:\n%s", e, s)
		}
	}

	var dog *TableDescription
	for _, td := range testSchema.Describe() {
		if td.Name == "Dog" {
			dog = &td
		}
	}
	if dog == nil || dog.PrimaryKey != "id" || len(dog.Properties) != 3 {
		t.Errorf("Dog description = %+v", dog)
	}
}
