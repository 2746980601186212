/*
Package objdb is an embedded object database: model structs that embed
objdb.Object are added to a DB, become live views of their rows, and can be
observed for changes. Storage is a Bolt file, or a transient in-memory store.

We implement:

1. Models, plain structs whose generated accessors (see cmd/objdbgen) call
Get, Set, ListProperty and friends. Unmanaged models keep values in their
own fields; managed ones read and write storage on every access.

2. Collections: List, Set and Dictionary properties, plus computed
backlinks.

3. Live queries (Results): every read re-evaluates against the version the
instance currently sees.

4. Change notifications: Observe on results, collections and objects
delivers change sets on the instance's scheduler.

5. A dynamic API (OpenDynamic, DynamicObject) for tools that have no model
types, used by migrations and cmd/objdb.

# Technical Details

**Instances and coordinators.**
A DB belongs to one goroutine, expressed as a sched.Scheduler. All instances
of one file in a process share a coordinator that owns the storage, the
resolved schema and the notifier. Every write transaction bumps a version
counter kept in the meta bucket.

**Buckets.**
Each table has a root bucket named after it with a "data" sub-bucket of
rows keyed by object key, one "i:<name>" sub-bucket per index, and a
"_state" record. Global metadata lives in the "_objdb" bucket: file format,
version, schema version, file id and the encryption canary.

**Table states**
The table state records the persisted column layout, a fingerprint of it,
and an ordinal for each index. Ordinals are never reused as indices are
removed and added. An index that is still being built is marked pending and
lookups fall back to a scan.

## Binary encoding

**Key encoding**.
Object keys are big-endian uint64. Index keys use a tuple encoding whose
first element is the indexed value's cell key, so prefix scans work.

**Value**: value header, then row data, then index key records.

**Value header**:
1. Flags (uvarint): format version and the encrypted bit.
2. Schema version (uvarint).
3. Modification count (uvarint).
4. Data size (uvarint).
5. Index size (uvarint).

**Row data**: msgpack array of columns in layout order. Sealed with
XChaCha20-Poly1305 when an encryption key is set; the object key is the
associated data.

**Index key records** (inside a value) record the keys this row contributed.
Updating a row deletes exactly the records that are gone, even if index
computation changed since the row was written.
*/
package objdb
