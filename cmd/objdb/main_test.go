package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/objdb"
)

var testSchema = objdb.NewSchema()

type Book struct {
	objdb.Object
	isbn  string
	title string
}

var _ = objdb.DefineModel(testSchema, "Book", func(b *objdb.ModelBuilder[Book]) {
	objdb.Field(b, "isbn", func(b *Book) *string { return &b.isbn }, objdb.PrimaryKey)
	objdb.Field(b, "title", func(b *Book) *string { return &b.title }, objdb.Indexed)
})

func (b *Book) SetISBN(v string)  { objdb.Set(b, "isbn", &b.isbn, v) }
func (b *Book) SetTitle(v string) { objdb.Set(b, "title", &b.title, v) }

func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.db")
	db, err := objdb.Open(path, testSchema, objdb.Options{IsTesting: true})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = db.Write(func(tx *objdb.Tx) error {
		for _, title := range []string{"Dune", "Emma"} {
			b := &Book{}
			b.SetISBN("isbn-" + title)
			b.SetTitle(title)
			if err := db.Add(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDump(t *testing.T) {
	path := seed(t)

	out, err := execute(t, "dump", "--path", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Book (2 rows)") || !strings.Contains(out, `"title":"Emma"`) {
		t.Errorf("dump:\n%s", out)
	}

	out, err = execute(t, "dump", "--path", path, "--yaml", "Book")
	if err != nil {
		t.Fatal(err)
	}
	var rows map[string][]objdb.RowDump
	if err := yaml.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("%v in:\n%s", err, out)
	}
	if len(rows["Book"]) != 2 || rows["Book"][0].Values["title"] != "Dune" {
		t.Errorf("rows = %v", rows)
	}

	_, err = execute(t, "dump", "--path", path, "Nope")
	if !errors.Is(err, objdb.ErrUnknownType) {
		t.Errorf("dump of an unknown table: %v", err)
	}
}

func TestSchema(t *testing.T) {
	path := seed(t)
	out, err := execute(t, "schema", "--path", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Book (primary key isbn)") || !strings.Contains(out, "  title string indexed") {
		t.Errorf("schema:\n%s", out)
	}

	out, err = execute(t, "schema", "--path", path, "--yaml")
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Tables []objdb.TableDescription `yaml:"tables"`
	}
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("%v in:\n%s", err, out)
	}
	if len(doc.Tables) != 1 || doc.Tables[0].PrimaryKey != "isbn" {
		t.Errorf("tables = %+v", doc.Tables)
	}
}

func TestStatsAndCompact(t *testing.T) {
	path := seed(t)
	out, err := execute(t, "stats", "--path", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Book") || !strings.Contains(out, "file size:") {
		t.Errorf("stats:\n%s", out)
	}

	cfg := filepath.Join(filepath.Dir(path), "objdb.json")
	if err := os.WriteFile(cfg, []byte(`{
		// relative to this file
		"path": "books.db",
	}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "compact", "--config", cfg, "--yaml")
	if err != nil {
		t.Fatal(err)
	}
	var sizes map[string]int64
	if err := yaml.Unmarshal([]byte(out), &sizes); err != nil || sizes["size_after"] <= 0 {
		t.Errorf("compact: %v\n%s", err, out)
	}

	out, err = execute(t, "dump", "--config", cfg)
	if err != nil || !strings.Contains(out, "Book (2 rows)") {
		t.Errorf("dump after compact: %v\n%s", err, out)
	}
}

func TestFlagsRequired(t *testing.T) {
	if _, err := execute(t, "stats"); err == nil {
		t.Errorf("stats without --path succeeded")
	}
	if _, err := execute(t, "stats", "--path", filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Errorf("stats of a missing file succeeded")
	}
}
