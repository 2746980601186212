package objdb

type TableStats struct {
	Table     string
	Rows      int
	IndexRows int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (ts *TableStats) TotalSize() int64 {
	return ts.DataSize + ts.IndexSize
}

func (ts *TableStats) TotalAlloc() int64 {
	return ts.DataAlloc + ts.IndexAlloc
}

func (r reader) tableStats(tbl *Table) (TableStats, error) {
	data, err := r.dataBucket(tbl)
	if err != nil {
		return TableStats{}, err
	}
	bs := data.Stats()
	result := TableStats{
		Table:     tbl.name,
		Rows:      bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
	for _, idx := range tbl.indices {
		b := r.stx.Bucket(tbl.name, idx.bucketName())
		if b == nil {
			continue
		}
		bs = b.Stats()
		result.IndexRows += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result, nil
}

// TableStats reports row counts and space usage of the named table.
// In-memory stores only report counts.
func (db *DB) TableStats(table string) (TableStats, error) {
	tbl, err := db.table(table)
	if err != nil {
		return TableStats{}, err
	}
	var ts TableStats
	err = db.withReader(func(r reader) error {
		ts, err = r.tableStats(tbl)
		return err
	})
	return ts, err
}

// Stats reports TableStats for every table, in schema order.
func (db *DB) Stats() ([]TableStats, error) {
	var out []TableStats
	err := db.withReader(func(r reader) error {
		for _, tbl := range db.schema.Tables() {
			ts, err := r.tableStats(tbl)
			if err != nil {
				return err
			}
			out = append(out, ts)
		}
		return nil
	})
	return out, err
}

// Size returns the size of the file in bytes. In-memory stores report the
// bytes held by their live data.
func (db *DB) Size() (int64, error) {
	var size int64
	err := db.withReader(func(r reader) error {
		size = r.stx.Size()
		return nil
	})
	return size, err
}
