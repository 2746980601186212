package objdb

import (
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"go.etcd.io/bbolt"
)

// compactTxSize bounds the size of each write transaction used to copy
// data into the compacted file.
const compactTxSize = 64 << 20

// Compact rewrites the file at path without free pages and replaces it
// atomically. The file must not be open anywhere: it fails with
// ErrFileInUse if an instance in this process has it open, or if another
// process holds its lock past opt.LockTimeout.
func Compact(path string, opt Options) error {
	opt.setDefaults()
	if opt.InMemory {
		return configErrf(path, nil, "in-memory stores cannot be compacted")
	}
	if isOpenInProcess(path) {
		return configErrf(path, ErrFileInUse, "file is open in this process")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return configErrf(path, err, "cannot compact")
	}
	oldSize := fi.Size()

	src, err := openBolt(path, &Options{LockTimeout: opt.LockTimeout, MmapSize: opt.MmapSize})
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".compact-*")
	if err != nil {
		return configErrf(path, err, "cannot create compaction file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	dst, err := bbolt.Open(tmpPath, fi.Mode().Perm(), &bbolt.Options{Timeout: opt.LockTimeout, NoSync: opt.IsTesting})
	if err != nil {
		return configErrf(tmpPath, err, "cannot open compaction file")
	}
	err = bbolt.Compact(dst, src, compactTxSize)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &EngineError{Op: "compact", Err: err}
	}

	// src keeps the lock until the file is replaced
	if err := atomic.ReplaceFile(tmpPath, path); err != nil {
		return &EngineError{Op: "compact", Err: err}
	}
	committed = true

	var newSize int64
	if fi, err := os.Stat(path); err == nil {
		newSize = fi.Size()
	}
	opt.Logger.Info("objdb: compacted", "path", path, "old_size", oldSize, "new_size", newSize)
	return nil
}
