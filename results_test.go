package objdb

import (
	"testing"
)

func names(people []*Person) []string {
	out := make([]string, len(people))
	for i, p := range people {
		out[i] = p.Name()
	}
	return out
}

func addPeople(t testing.TB, db *DB, people ...*Person) {
	t.Helper()
	write(t, db, func(tx *Tx) {
		for _, p := range people {
			ok(t, db.Add(p))
		}
	})
}

func TestResultsAreLive(t *testing.T) {
	db := setup(t, testSchema)
	all, err := All[*Person](db)
	ok(t, err)
	if n := all.Len(); n != 0 {
		t.Fatalf("Len = %d, wanted 0", n)
	}
	if _, found := all.First(); found {
		t.Fatalf("First found an object in empty results")
	}

	addPeople(t, db, newPerson("Alice", 30), newPerson("Bob", 25))
	deepEqual(t, names(all.Items()), []string{"Alice", "Bob"})

	write(t, db, func(tx *Tx) {
		ok(t, db.Add(newPerson("Carol", 35)))
		if n := all.Len(); n != 3 {
			t.Errorf("Len = %d inside the write transaction, wanted 3", n)
		}
	})
	first, found := all.First()
	if !found || first.Name() != "Alice" {
		t.Errorf("First = %v", first)
	}
	if a := all.At(2).Name(); a != "Carol" {
		t.Errorf("At(2) = %q", a)
	}
	isErr(t, Catch(func() { all.At(3) }), ErrIndexOutOfRange)
}

func TestWhere(t *testing.T) {
	db := setup(t, testSchema)
	addPeople(t, db, newPerson("Alice", 30), newPerson("Bob", 30), newPerson("Alice", 40))

	// indexed
	res, err := Where[*Person](db, "name", "Alice")
	ok(t, err)
	people := res.Items()
	if len(people) != 2 || people[0].Age() != 30 || people[1].Age() != 40 {
		t.Errorf("Where(name=Alice) = %v", people)
	}

	// unindexed, then narrowed by an indexed filter
	res, err = Where[*Person](db, "age", int64(30))
	ok(t, err)
	deepEqual(t, names(res.Items()), []string{"Alice", "Bob"})
	deepEqual(t, names(res.Where("name", "Bob").Items()), []string{"Bob"})

	write(t, db, func(tx *Tx) {
		people[1].SetName("Bob")
	})
	deepEqual(t, names(must(Where[*Person](db, "name", "Bob")).Items()), []string{"Bob", "Bob"})

	_, err = Where[*Person](db, "nope", 1)
	isErr(t, err, ErrUnknownProperty)
	_, err = Where[*Person](db, "tags", "x")
	isErr(t, err, ErrTypeMismatch)
	_, err = Where[*Person](db, "age", "thirty")
	isErr(t, err, ErrTypeMismatch)
}

func TestWhereLink(t *testing.T) {
	db := setup(t, testSchema)
	rex := newDog("rex", "Rex")
	alice := newPerson("Alice", 30)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(rex))
		alice.SetDog(rex)
		ok(t, db.Add(alice))
		ok(t, db.Add(newPerson("Bob", 30)))
	})
	res, err := Where[*Person](db, "dog", rex)
	ok(t, err)
	deepEqual(t, names(res.Items()), []string{"Alice"})
}

func TestSorted(t *testing.T) {
	db := setup(t, testSchema)
	addPeople(t, db,
		newPerson("Carol", 30),
		newPerson("Alice", 40),
		newPerson("Bob", 30),
		newPerson("Alice", 20),
	)
	all := must(All[*Person](db))

	deepEqual(t, names(all.Sorted("name", true).Items()), []string{"Alice", "Alice", "Bob", "Carol"})
	deepEqual(t, names(all.Sorted("name", false).Items()), []string{"Carol", "Bob", "Alice", "Alice"})

	// ties are broken by creation order
	deepEqual(t, names(all.Sorted("age", true).Items()), []string{"Alice", "Carol", "Bob", "Alice"})

	byAgeThenName := all.Sorted("age", false).Sorted("name", true)
	deepEqual(t, names(byAgeThenName.Items()), []string{"Alice", "Bob", "Carol", "Alice"})

	isErr(t, Catch(func() { all.Sorted("friends", true) }), ErrTypeMismatch)
}

func TestBacklinks(t *testing.T) {
	db := setup(t, testSchema)
	rex := newDog("rex", "Rex")
	alice := newPerson("Alice", 30)
	bob := newPerson("Bob", 25)
	write(t, db, func(tx *Tx) {
		ok(t, db.Add(rex))
		alice.SetDog(rex)
		bob.SetDog(rex)
		ok(t, db.Add(alice))
		ok(t, db.Add(bob))
	})

	owners := rex.Owners()
	deepEqual(t, names(owners.Items()), []string{"Alice", "Bob"})

	write(t, db, func(tx *Tx) {
		bob.SetDog(nil)
	})
	deepEqual(t, names(owners.Items()), []string{"Alice"})

	write(t, db, func(tx *Tx) {
		ok(t, db.Remove(rex))
	})
	_, err := owners.Keys()
	if err != nil {
		t.Fatalf("Keys = %v", err)
	}
	if n := owners.Len(); n != 0 {
		t.Errorf("Len = %d after the owner was removed", n)
	}

	_, err = GetBacklinks[*Note](ObjectOf(alice), "dog")
	isErr(t, err, ErrTypeMismatch)
	_, err = GetBacklinks[*Person](ObjectOf(newDog("x", "X")), "owners")
	isErr(t, err, ErrInvalidatedObject)
}

func TestResultsCacheFollowsWrites(t *testing.T) {
	db := setup(t, testSchema)
	all := must(All[*Person](db))
	addPeople(t, db, newPerson("Alice", 30))

	keys1, err := all.Keys()
	ok(t, err)
	keys2, err := all.Keys()
	ok(t, err)
	if len(keys1) != 1 || &keys1[0] != &keys2[0] {
		t.Errorf("Keys was re-evaluated without a write")
	}

	write(t, db, func(tx *Tx) {
		ok(t, db.Add(newPerson("Bob", 30)))
		keys, err := all.Keys()
		ok(t, err)
		if len(keys) != 2 {
			t.Errorf("Keys = %v inside the write transaction", keys)
		}
	})
}

func TestReleasedResults(t *testing.T) {
	db := setup(t, testSchema)
	all := must(All[*Person](db))
	all.Release()
	if all.IsValid() {
		t.Fatalf("IsValid = true after Release")
	}
	_, err := all.Keys()
	isErr(t, err, ErrInvalidatedObject)
	_, err = all.Observe(nil)
	isErr(t, err, ErrInvalidatedObject)
}
