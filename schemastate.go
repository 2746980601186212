package objdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/andreyvit/objdb/cell"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	metaBucketName = "_objdb"
	fileFormat     = 1
)

var (
	metaFormatKey        = []byte("format")
	metaVersionKey       = []byte("version")
	metaSchemaVersionKey = []byte("schema_version")
	metaCanaryKey        = []byte("canary")
	metaFileIDKey        = []byte("file_id")
	tableStateKey        = []byte("_state")
)

func getUint64(b storageBucket, key []byte) uint64 {
	if b == nil {
		return 0
	}
	raw := b.Get(key)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func putUint64(b storageBucket, key []byte, v uint64) error {
	return b.Put(key, binary.BigEndian.AppendUint64(nil, v))
}

// tableState is the persisted description of a table: the column layout
// rows were written with, plus index bookkeeping.
type tableState struct {
	Key              TableKey               `msgpack:"k"`
	Columns          []columnState          `msgpack:"c"`
	Backlinks        []columnState          `msgpack:"b,omitempty"`
	Fingerprint      uint64                 `msgpack:"fp"`
	LastIndexOrdinal uint64                 `msgpack:"li"`
	Indices          map[string]*indexState `msgpack:"i"`
	LastSeen         time.Time              `msgpack:"t"`

	table            *Table                 `msgpack:"-"`
	indexStates      []*indexState          `msgpack:"-"`
	indexStatesByOrd map[uint64]*indexState `msgpack:"-"`
}

type columnState struct {
	Name     string `msgpack:"n"`
	Kind     string `msgpack:"k"`
	Coll     string `msgpack:"c,omitempty"`
	Nullable bool   `msgpack:"null,omitempty"`
	Target   string `msgpack:"t,omitempty"`
	Origin   string `msgpack:"o,omitempty"`
	Primary  bool   `msgpack:"pk,omitempty"`
	Indexed  bool   `msgpack:"idx,omitempty"`
}

func describeColumn(prop *Property) columnState {
	return columnState{
		Name:     prop.Name,
		Kind:     prop.Kind.String(),
		Coll:     prop.Coll.String(),
		Nullable: prop.Nullable,
		Target:   prop.Target,
		Origin:   prop.OriginProperty,
		Primary:  prop.Primary,
		Indexed:  prop.Indexed,
	}
}

func (cs columnState) typeString() string {
	s := cs.Kind
	if cs.Kind == cell.KindLink.String() {
		s = cs.Target
	} else if cs.Nullable {
		s += "?"
	}
	if cs.Coll != "" {
		s = cs.Coll + "<" + s + ">"
	}
	return s
}

// layoutFingerprint hashes everything that determines how rows are
// encoded. Indexed is left out: adding or removing an index only needs a
// rebuild.
func layoutFingerprint(cols []columnState) uint64 {
	h := xxhash.New()
	for _, cs := range cols {
		h.WriteString(cs.Name)
		h.WriteString("|")
		h.WriteString(cs.typeString())
		if cs.Primary {
			h.WriteString("|pk")
		}
		h.WriteString("\n")
	}
	return h.Sum64()
}

func (ts *tableState) indexOrdinal(idx *Index) uint64 {
	return ts.indexStates[idx.pos].IndexOrdinal
}

func (ts *tableState) indexByOrdinal(ord uint64) *Index {
	is := ts.indexStatesByOrd[ord]
	if is == nil {
		return nil
	}
	return is.index
}

func (ts *tableState) indexBuilt(idx *Index) bool {
	return ts.indexStates[idx.pos].Built
}

func (ts *tableState) hasPendingIndices() bool {
	for _, is := range ts.Indices {
		if !is.Built {
			return true
		}
	}
	return false
}

type indexState struct {
	index        *Index `msgpack:"-"`
	IndexOrdinal uint64 `msgpack:"o"`
	Built        bool   `msgpack:"f"`
}

func loadTableState(stx storageTx, name string) (*tableState, error) {
	root := stx.Bucket(name, "")
	if root == nil {
		return nil, nil
	}
	raw := root.Get(tableStateKey)
	if raw == nil {
		return nil, nil
	}
	ts := new(tableState)
	if err := decodeMsgpack(raw, ts); err != nil {
		return nil, fmt.Errorf("%s: table state: %w", name, err)
	}
	return ts, nil
}

func loadStoredStates(stx storageTx) (map[string]*tableState, error) {
	states := make(map[string]*tableState)
	for _, name := range stx.RootBuckets() {
		if name == metaBucketName {
			continue
		}
		ts, err := loadTableState(stx, name)
		if err != nil {
			return nil, err
		}
		if ts != nil {
			states[name] = ts
		}
	}
	return states, nil
}

func saveTableState(stx storageTx, ts *tableState) error {
	root := stx.Bucket(ts.table.name, "")
	if root == nil {
		return fmt.Errorf("%s: %w", ts.table.name, ErrBucketNotFound)
	}
	return root.Put(tableStateKey, encodeMsgpack(nil, ts))
}

// schemaFromStates rebuilds a schema from what the file says, for dynamic
// opens and for the old side of a migration.
func schemaFromStates(states map[string]*tableState) (*Schema, error) {
	scm := NewSchema()
	for _, name := range sortedKeys(states) {
		ts := states[name]
		tbl := newTable(name)
		for _, cs := range append(slices.Clone(ts.Columns), ts.Backlinks...) {
			kind, ok := cell.ParseKind(cs.Kind)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown stored kind %q", name, cs.Name, cs.Kind)
			}
			coll, ok := parseCollectionKind(cs.Coll)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown stored collection %q", name, cs.Name, cs.Coll)
			}
			prop := &Property{
				Name:           cs.Name,
				Kind:           kind,
				Coll:           coll,
				Nullable:       cs.Nullable,
				Target:         cs.Target,
				OriginProperty: cs.Origin,
				Primary:        cs.Primary,
				Indexed:        cs.Indexed,
			}
			if problems := tbl.addProperty(prop); len(problems) > 0 {
				return nil, &ModelError{Type: name, Problems: problems}
			}
		}
		scm.addTable(tbl)
	}
	if err := scm.finalize(); err != nil {
		return nil, err
	}
	return scm, nil
}

// compareLayout lists the differences between the declared table and the
// stored layout that require a migration. The second result reports that
// only the column order differs.
func compareLayout(tbl *Table, ts *tableState) (problems []string, reorder bool) {
	declared := make([]columnState, len(tbl.columns))
	for i, prop := range tbl.columns {
		declared[i] = describeColumn(prop)
	}
	if layoutFingerprint(declared) == ts.Fingerprint && len(declared) == len(ts.Columns) {
		return nil, false
	}

	stored := make(map[string]columnState, len(ts.Columns))
	for _, cs := range ts.Columns {
		stored[cs.Name] = cs
	}
	for i, cs := range declared {
		old, found := stored[cs.Name]
		if !found {
			problems = append(problems, fmt.Sprintf("property %s.%s has been added", tbl.name, cs.Name))
			continue
		}
		delete(stored, cs.Name)
		if old.typeString() != cs.typeString() {
			problems = append(problems, fmt.Sprintf("property %s.%s has changed type from %s to %s", tbl.name, cs.Name, old.typeString(), cs.typeString()))
		}
		if old.Primary != cs.Primary {
			if cs.Primary {
				problems = append(problems, fmt.Sprintf("primary key of %s has been set to %s", tbl.name, cs.Name))
			} else {
				problems = append(problems, fmt.Sprintf("primary key %s.%s has been removed", tbl.name, cs.Name))
			}
		}
		if i >= len(ts.Columns) || ts.Columns[i].Name != cs.Name {
			reorder = true
		}
	}
	for _, cs := range ts.Columns {
		if _, found := stored[cs.Name]; found {
			problems = append(problems, fmt.Sprintf("property %s.%s has been removed", tbl.name, cs.Name))
		}
	}
	return problems, reorder && len(problems) == 0
}

// bindTable creates the buckets of a declared table and brings its state
// in line with the declaration. New indices are left unbuilt.
func (c *coordinator) bindTable(stx storageTx, tbl *Table, ts *tableState, now time.Time) (*tableState, error) {
	if _, err := stx.CreateBucket(tbl.name, dataBucketName); err != nil {
		return nil, err
	}
	for _, idx := range tbl.indices {
		if _, err := stx.CreateBucket(tbl.name, idx.bucketName()); err != nil {
			return nil, err
		}
	}

	if ts == nil {
		key, err := c.nextTableKey(stx)
		if err != nil {
			return nil, err
		}
		ts = &tableState{Key: key}
	}
	ts.table = tbl
	ts.Columns = ts.Columns[:0]
	for _, prop := range tbl.columns {
		ts.Columns = append(ts.Columns, describeColumn(prop))
	}
	ts.Backlinks = nil
	for _, prop := range tbl.backlinks {
		ts.Backlinks = append(ts.Backlinks, describeColumn(prop))
	}
	ts.Fingerprint = layoutFingerprint(ts.Columns)
	ts.LastSeen = now

	if ts.Indices == nil {
		ts.Indices = make(map[string]*indexState)
	}
	ts.attachIndices(tbl)
	for k, is := range ts.Indices {
		if is.index == nil {
			if err := stx.DeleteBucket(tbl.name, indexBucketPrefix+k); err != nil && !errors.Is(err, ErrBucketNotFound) {
				return nil, err
			}
			delete(ts.Indices, k)
			c.logger.Info("objdb: dropped index", "table", tbl.name, "index", k)
		}
	}
	return ts, nil
}

// attachIndices links index states to the indices of tbl, allocating
// ordinals for new ones.
func (ts *tableState) attachIndices(tbl *Table) {
	ts.table = tbl
	ts.indexStates = make([]*indexState, len(tbl.indices))
	ts.indexStatesByOrd = make(map[uint64]*indexState)
	for i, idx := range tbl.indices {
		is := ts.Indices[idx.name]
		if is == nil {
			ts.LastIndexOrdinal++
			is = &indexState{IndexOrdinal: ts.LastIndexOrdinal}
			if ts.Indices == nil {
				ts.Indices = make(map[string]*indexState)
			}
			ts.Indices[idx.name] = is
		}
		is.index = idx
		ts.indexStates[i] = is
		ts.indexStatesByOrd[is.IndexOrdinal] = is
	}
}

func (c *coordinator) nextTableKey(stx storageTx) (TableKey, error) {
	meta, err := stx.CreateBucket(metaBucketName, "")
	if err != nil {
		return 0, err
	}
	seq, err := meta.NextSequence()
	return TableKey(seq), err
}

// reindex builds the pending indices of a table by rewriting every row.
func (w *writer) reindex(ts *tableState) error {
	if !ts.hasPendingIndices() {
		return nil
	}
	tbl := ts.table
	start := time.Now()
	for _, is := range ts.Indices {
		is.Built = true
	}
	keys, err := w.keys(tbl)
	if err != nil {
		return err
	}
	for _, key := range keys {
		row, _, _, err := w.getRow(tbl, key)
		if err != nil {
			return err
		}
		if _, err := w.putRow(tbl, key, row, true); err != nil {
			return err
		}
	}
	w.c.logger.LogAttrs(context.Background(), slog.LevelInfo, "objdb: reindexed table", slog.String("table", tbl.name), slog.Int("rows", len(keys)), slog.Duration("elapsed", time.Since(start)))
	return nil
}

// prepare resolves the declared schema against the file and brings the
// file up to date: creating tables, migrating or wiping data, building
// indices. With a nil declared schema the stored one is adopted.
func (c *coordinator) prepare(db *DB, declared *Schema, opt *Options) error {
	stx, err := c.store.BeginTx(!c.readOnly)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	now := time.Now()

	meta := stx.Bucket(metaBucketName, "")
	fresh := meta == nil
	var storedVer uint64
	if !fresh {
		if err := c.checkMeta(meta); err != nil {
			return err
		}
		storedVer = getUint64(meta, metaSchemaVersionKey)
	}
	stored, err := loadStoredStates(stx)
	if err != nil {
		return err
	}

	if declared == nil {
		scm, err := schemaFromStates(stored)
		if err != nil {
			return err
		}
		declared = scm
		opt.SchemaVersion = storedVer
	} else if err := declared.finalize(); err != nil {
		return err
	}
	c.schema = declared
	c.schemaVersion = opt.SchemaVersion
	db.schema = declared

	var problems []string
	var reorder, missing bool
	if !fresh {
		for _, tbl := range declared.tables {
			ts := stored[tbl.name]
			if ts == nil {
				missing = true
				continue
			}
			p, r := compareLayout(tbl, ts)
			problems = append(problems, p...)
			reorder = reorder || r
		}
	}

	var migrate bool
	switch {
	case fresh:
	case opt.SchemaVersion < storedVer:
		return &SchemaError{Problems: []string{fmt.Sprintf("schema version %d is older than the file's schema version %d", opt.SchemaVersion, storedVer)}}
	case opt.SchemaVersion > storedVer || len(problems) > 0:
		switch {
		case opt.DeleteIfMigrationNeeded:
			if c.readOnly {
				return configErrf(c.path, ErrReadOnly, "file needs a migration")
			}
			c.logger.Warn("objdb: deleting all data because the schema changed", "path", c.path, "from", storedVer, "to", opt.SchemaVersion)
			if err := wipeAll(stx); err != nil {
				return err
			}
			fresh, stored = true, map[string]*tableState{}
		case opt.SchemaVersion == storedVer:
			return &SchemaError{Problems: append(problems, "schema version must be increased to migrate")}
		case opt.Migration == nil:
			problems = append(problems, fmt.Sprintf("schema version changed from %d to %d", storedVer, opt.SchemaVersion))
			return &SchemaError{Problems: append(problems, "a migration is required")}
		default:
			migrate = true
		}
	}

	if c.readOnly {
		if fresh || migrate || reorder || missing {
			return configErrf(c.path, ErrReadOnly, "file needs schema changes")
		}
		for _, tbl := range declared.tables {
			ts := stored[tbl.name]
			ts.attachIndices(tbl)
			if ts.hasPendingIndices() {
				return configErrf(c.path, ErrReadOnly, "table %s needs reindexing", tbl.name)
			}
			c.states[tbl] = ts
		}
		c.version.Store(getUint64(meta, metaVersionKey))
		return nil
	}

	meta, err = stx.CreateBucket(metaBucketName, "")
	if err != nil {
		return err
	}
	if fresh {
		if err := putUint64(meta, metaFormatKey, fileFormat); err != nil {
			return err
		}
		fileID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		if err := meta.Put(metaFileIDKey, fileID[:]); err != nil {
			return err
		}
		if c.cipher != nil {
			if err := meta.Put(metaCanaryKey, c.cipher.canary()); err != nil {
				return err
			}
		}
	}

	if migrate || reorder {
		if err := c.migrate(db, stx, stored, storedVer, opt, migrate, now); err != nil {
			return err
		}
	} else {
		for _, tbl := range declared.tables {
			ts, err := c.bindTable(stx, tbl, stored[tbl.name], now)
			if err != nil {
				return err
			}
			c.states[tbl] = ts
		}
	}

	w := &writer{reader: reader{c: c, stx: stx}}
	for _, tbl := range declared.tables {
		ts := c.states[tbl]
		if err := w.reindex(ts); err != nil {
			return err
		}
		if err := saveTableState(stx, ts); err != nil {
			return err
		}
	}
	if err := putUint64(meta, metaSchemaVersionKey, opt.SchemaVersion); err != nil {
		return err
	}
	version := getUint64(meta, metaVersionKey)
	if err := stx.Commit(); err != nil {
		return err
	}
	c.version.Store(version)
	return nil
}

func (c *coordinator) checkMeta(meta storageBucket) error {
	if f := getUint64(meta, metaFormatKey); f != fileFormat {
		return configErrf(c.path, nil, "unsupported file format %d", f)
	}
	canary := meta.Get(metaCanaryKey)
	switch {
	case canary == nil && c.cipher != nil:
		return configErrf(c.path, ErrInvalidEncryptionKey, "file is not encrypted")
	case canary != nil && c.cipher == nil:
		return configErrf(c.path, ErrInvalidEncryptionKey, "file is encrypted")
	case canary != nil:
		if err := c.cipher.checkCanary(canary); err != nil {
			return configErrf(c.path, ErrInvalidEncryptionKey, "wrong key")
		}
	}
	return nil
}

func wipeAll(stx storageTx) error {
	for _, name := range stx.RootBuckets() {
		if err := stx.DeleteBucket(name, ""); err != nil {
			return err
		}
	}
	return nil
}
