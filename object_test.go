package objdb

import (
	"errors"
	"testing"

	"github.com/andreyvit/objdb/cell"
)

func TestUnmanagedObject(t *testing.T) {
	p := newPerson("Alice", 30)
	p.SetEmail(strptr("alice@example.com"))

	if p.IsManaged() {
		t.Fatalf("new object is managed")
	}
	if !p.IsValid() {
		t.Fatalf("unmanaged object is not valid")
	}
	if a, e := p.Name(), "Alice"; a != e {
		t.Errorf("Name = %q, wanted %q", a, e)
	}
	if a := p.Email(); a == nil || *a != "alice@example.com" {
		t.Errorf("Email = %v", a)
	}
	if a, e := p.String(), "Person/unmanaged"; a != e {
		t.Errorf("String = %q, wanted %q", a, e)
	}
	v, err := ObjectOf(p).GetValue("age")
	ok(t, err)
	if !cell.Equal(v, cell.IntValue(30)) {
		t.Errorf("GetValue(age) = %v, wanted 30", v)
	}
}

func TestAddAndRead(t *testing.T) {
	db := setup(t, testSchema)

	p := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
	})
	if !p.IsManaged() || p.DB() != db {
		t.Fatalf("object is not managed by db after Add")
	}
	if a, e := p.Name(), "Alice"; a != e {
		t.Errorf("Name = %q, wanted %q", a, e)
	}
	if a, e := p.Age(), int64(30); a != e {
		t.Errorf("Age = %d, wanted %d", a, e)
	}
	if p.Email() != nil {
		t.Errorf("Email = %v, wanted nil", p.Email())
	}

	write(t, db, func(tx *Tx) {
		p.SetAge(31)
		p.SetEmail(strptr("a@example.com"))
		ok(t, db.Add(p)) // no-op for managed objects
	})

	all, err := All[*Person](db)
	ok(t, err)
	people := all.Items()
	if len(people) != 1 {
		t.Fatalf("len(All) = %d, wanted 1", len(people))
	}
	q := people[0]
	if q == p {
		t.Fatalf("All returned the same accessor")
	}
	if q.Key() != p.Key() || q.Age() != 31 || *q.Email() != "a@example.com" {
		t.Errorf("got %v age=%d email=%v", q, q.Age(), q.Email())
	}
}

func TestWritesNeedTransaction(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)

	isErr(t, db.Add(p), ErrNotInWriteTransaction)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
	})
	isErr(t, Catch(func() { p.SetAge(31) }), ErrNotInWriteTransaction)
	isErr(t, Catch(func() { p.Tags().Append("x") }), ErrNotInWriteTransaction)
	isErr(t, db.Remove(p), ErrNotInWriteTransaction)

	tx, err := db.BeginWrite()
	ok(t, err)
	_, err = db.BeginWrite()
	isErr(t, err, ErrNestedWriteTransaction)
	ok(t, tx.Rollback())
	isErr(t, tx.Commit(), ErrTransactionDone)
}

func TestSameValueWriteIsSkipped(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
	})
	v1, err := db.Version()
	ok(t, err)

	var n int
	write(t, db, func(tx *Tx) {
		p.SetName("Alice")
		n = len(tx.Changes())
	})
	if n != 0 {
		t.Errorf("Changes = %d, wanted 0", n)
	}
	v2, err := db.Version()
	ok(t, err)
	if v1 != v2 {
		t.Errorf("version changed from %d to %d on a no-op write", v1, v2)
	}
}

func TestRollbackDetaches(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)

	abort := errors.New("abort")
	err := db.Write(func(tx *Tx) error {
		ok(t, db.Add(p))
		p.SetAge(99)
		return abort
	})
	isErr(t, err, abort)

	if p.IsManaged() {
		t.Fatalf("object still managed after rollback")
	}
	if a := p.Age(); a != 30 {
		t.Errorf("Age = %d, wanted the unmanaged value 30", a)
	}
	all, err := All[*Person](db)
	ok(t, err)
	if n := all.Len(); n != 0 {
		t.Errorf("len(All) = %d, wanted 0", n)
	}
}

func TestPanicInWriteRollsBack(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
	})

	err := db.Write(func(tx *Tx) error {
		p.SetAge(40)
		p.SetDog(&Dog{}) // panics
		return nil
	})
	isErr(t, err, ErrUnmanagedLink)
	if a := p.Age(); a != 30 {
		t.Errorf("Age = %d, wanted 30 after rollback", a)
	}
}

func TestPrimaryKeys(t *testing.T) {
	db := setup(t, testSchema)
	rex := newDog("rex", "Rex")
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(rex))
	})

	err := db.Write(func(tx *Tx) error {
		rex.SetID("max")
		return nil
	})
	isErr(t, err, ErrPrimaryKeyAlreadySet)

	write(t, db, func(tx *Tx) {
		isErr(t, db.Add(newDog("rex", "Other")), ErrDuplicatePrimaryKey)
	})

	write(t, db, func(tx *Tx) {
		ok(t, db.AddOrUpdate(newDog("rex", "Rexy")))
	})
	d, found, err := Find[*Dog](db, "rex")
	ok(t, err)
	if !found {
		t.Fatalf("Find(rex) found nothing")
	}
	if d.Key() != rex.Key() || d.Name() != "Rexy" {
		t.Errorf("Find(rex) = %v name=%q, wanted %v name=Rexy", d, d.Name(), rex)
	}
	if n := must(All[*Dog](db)).Len(); n != 1 {
		t.Errorf("len(All) = %d, wanted 1", n)
	}

	_, found, err = Find[*Dog](db, "max")
	ok(t, err)
	if found {
		t.Errorf("Find(max) found an object")
	}
	_, _, err = Find[*Note](db, "x")
	isErr(t, err, ErrUnknownProperty)
}

func TestPrimaryKeyMustComeFirst(t *testing.T) {
	db := setup(t, testSchema)
	write(t, db, func(tx *Tx) {
		d, err := db.CreateObject("Dog")
		ok(t, err)
		isErr(t, d.Set("name", cell.StringValue("Rex")), ErrPrimaryKeyOrder)
		ok(t, d.SetValueUnique("id", cell.StringValue("rex")))
		ok(t, d.Set("name", cell.StringValue("Rex")))
		isErr(t, d.SetValueUnique("id", cell.StringValue("max")), ErrPrimaryKeyAlreadySet)

		e, err := db.CreateObject("Dog")
		ok(t, err)
		isErr(t, e.SetValueUnique("id", cell.StringValue("rex")), ErrDuplicatePrimaryKey)

		// never receives a key, dropped at the end of the transaction
		_, err = db.CreateObject("Dog")
		ok(t, err)
	})
	all, err := db.DynamicAll("Dog")
	ok(t, err)
	if n := all.Len(); n != 1 {
		t.Errorf("len(Dog) = %d, wanted 1", n)
	}
}

func TestLinks(t *testing.T) {
	db := setup(t, testSchema)
	rex := newDog("rex", "Rex")
	alice := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(rex))
		alice.SetDog(rex)
		ok(t, db.Add(alice))
	})

	d := alice.Dog()
	if d == nil || d.ID() != "rex" || d.Key() != rex.Key() {
		t.Fatalf("Dog = %v", d)
	}

	bob := newPerson("Bob", 40)
	bob.SetDog(newDog("fido", "Fido"))
	write(t, db, func(tx *Tx) {
		isErr(t, db.Add(bob), ErrUnmanagedLink)
	})
	if bob.IsManaged() {
		t.Errorf("Bob is managed after a failed Add")
	}

	write(t, db, func(tx *Tx) {
		isErr(t, Catch(func() { alice.SetDog(newDog("max", "Max")) }), ErrUnmanagedLink)
		alice.SetDog(nil)
	})
	if alice.Dog() != nil {
		t.Errorf("Dog = %v, wanted nil", alice.Dog())
	}
}

func TestRemoveNullifiesLinks(t *testing.T) {
	db := setup(t, testSchema)
	rex := newDog("rex", "Rex")
	alice := newPerson("Alice", 30)
	bob := newPerson("Bob", 40)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(rex))
		alice.SetDog(rex)
		ok(t, db.Add(alice))
		ok(t, db.Add(bob))
		alice.Friends().Append(bob, bob)
		bob.Friends().Append(alice)
	})

	write(t, db, func(tx *Tx) {
		ok(t, db.Remove(rex))
		ok(t, db.Remove(bob))
	})
	if rex.IsValid() {
		t.Errorf("removed object is still valid")
	}
	isErr(t, Catch(func() { rex.Name() }), ErrInvalidatedObject)
	if alice.Dog() != nil {
		t.Errorf("Dog = %v, wanted nil after removing the target", alice.Dog())
	}
	if n := alice.Friends().Len(); n != 0 {
		t.Errorf("len(Friends) = %d, wanted 0 after removing the target", n)
	}

	write(t, db, func(tx *Tx) {
		isErr(t, db.Remove(rex), ErrInvalidatedObject)
	})
}

func TestRemoveAll(t *testing.T) {
	db := setup(t, testSchema)
	write(t, db, func(tx *Tx) {
		for _, name := range []string{"a", "b", "c"} {
			ok(t, db.Add(newPerson(name, 1)))
		}
		ok(t, db.Add(&Note{text: "keep"}))
	})
	write(t, db, func(tx *Tx) {
		ok(t, RemoveAll[*Person](db))
	})
	if n := must(All[*Person](db)).Len(); n != 0 {
		t.Errorf("len(Person) = %d, wanted 0", n)
	}
	if n := must(All[*Note](db)).Len(); n != 1 {
		t.Errorf("len(Note) = %d, wanted 1", n)
	}
}

func TestPropertyListeners(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)

	var changed []string
	cancel := ObjectOf(p).OnPropertyChanged(func(name string) {
		changed = append(changed, name)
	})
	p.SetAge(31)
	p.Tags().Append("x")
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
		p.SetName("Alicia")
		p.SetName("Alicia")
	})
	cancel()
	write(t, db, func(tx *Tx) {
		p.SetAge(50)
	})
	deepEqual(t, changed, []string{"age", "tags", "name"})
}

func TestRequiredAndTypes(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
	})
	o := ObjectOf(p)
	write(t, db, func(tx *Tx) {
		isErr(t, o.SetValue("name", cell.Null), ErrRequired)
		isErr(t, o.SetValue("age", cell.StringValue("x")), ErrTypeMismatch)
		isErr(t, o.SetValue("nope", cell.IntValue(1)), ErrUnknownProperty)
		isErr(t, o.SetValue("tags", cell.IntValue(1)), ErrTypeMismatch)
		ok(t, o.SetValue("email", cell.Null))
	})
	_, err := o.GetValue("friends")
	isErr(t, err, ErrTypeMismatch)
}

func TestObjectsAcrossInstances(t *testing.T) {
	path := tempPath(t)
	db1 := setupAt(t, path, testSchema, Options{})
	db2 := setupAt(t, path, testSchema, Options{})

	p := newPerson("Alice", 30)
	write(t, db1, func(tx *Tx) {
		ok(t, db1.Add(p))
	})
	err := db2.Write(func(tx *Tx) error {
		return db2.Add(p)
	})
	isErr(t, err, ErrObjectManagedByOtherInstance)

	q := must(All[*Person](db2)).At(0)
	if q.Name() != "Alice" {
		t.Errorf("Name = %q in the second instance", q.Name())
	}
	write(t, db2, func(tx *Tx) {
		q.SetAge(31)
	})
	if a := p.Age(); a != 31 {
		t.Errorf("Age = %d in the first instance, wanted 31", a)
	}
}

func TestClosedInstance(t *testing.T) {
	db := setup(t, testSchema)
	p := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(p))
	})
	res := must(All[*Person](db))
	ok(t, db.Close())
	ok(t, db.Close())

	if !db.IsClosed() {
		t.Errorf("IsClosed = false")
	}
	if p.IsValid() || res.IsValid() {
		t.Errorf("objects are still valid after Close")
	}
	isErr(t, Catch(func() { p.Name() }), ErrInstanceClosed)
	_, err := res.Keys()
	isErr(t, err, ErrInstanceClosed)
	isErr(t, db.Write(func(tx *Tx) error { return nil }), ErrInstanceClosed)
}
