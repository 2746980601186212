package objdb

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.etcd.io/bbolt"
)

// coordinator is shared by all instances that have the same file open in
// this process. It owns the storage, the resolved schema and the notifier.
type coordinator struct {
	key      string
	path     string
	refs     int
	ready    chan struct{}
	initErr  error
	inMemory bool
	readOnly bool
	encKey   []byte
	dynamic  bool

	store         storage
	schema        *Schema
	schemaVersion uint64
	states        map[*Table]*tableState
	cipher        *rowCipher
	logger        *slog.Logger
	verbose       bool
	notifier      *notifier

	// version is the commit counter of the latest commit made through this
	// coordinator.
	version atomic.Uint64
}

var coordinators = struct {
	sync.Mutex
	m map[string]*coordinator
}{m: make(map[string]*coordinator)}

func coordinatorKey(path string, inMemory bool) (string, error) {
	if inMemory {
		return "mem:" + path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file:" + abs, nil
}

// isOpenInProcess reports whether any instance has the file open.
func isOpenInProcess(path string) bool {
	key, err := coordinatorKey(path, false)
	if err != nil {
		return false
	}
	coordinators.Lock()
	defer coordinators.Unlock()
	return coordinators.m[key] != nil
}

func acquireCoordinator(db *DB, path string, declared *Schema, opt *Options) (*coordinator, error) {
	key, err := coordinatorKey(path, opt.InMemory)
	if err != nil {
		return nil, configErrf(path, err, "invalid path")
	}

	coordinators.Lock()
	c := coordinators.m[key]
	if c != nil {
		c.refs++
		coordinators.Unlock()
		<-c.ready
		if c.initErr != nil {
			return nil, c.initErr
		}
		if err := c.checkCompatible(declared, opt); err != nil {
			c.release()
			return nil, err
		}
		return c, nil
	}
	c = &coordinator{
		key:      key,
		path:     path,
		refs:     1,
		ready:    make(chan struct{}),
		inMemory: opt.InMemory,
		readOnly: opt.ReadOnly,
		encKey:   bytes.Clone(opt.EncryptionKey),
		dynamic:  declared == nil,
		states:   make(map[*Table]*tableState),
		logger:   opt.Logger,
		verbose:  opt.Verbose,
	}
	coordinators.m[key] = c
	coordinators.Unlock()

	db.coord = c
	c.initErr = c.init(db, declared, opt)
	if c.initErr != nil {
		coordinators.Lock()
		delete(coordinators.m, key)
		coordinators.Unlock()
		close(c.ready)
		return nil, c.initErr
	}
	close(c.ready)
	return c, nil
}

func (c *coordinator) init(db *DB, declared *Schema, opt *Options) error {
	if opt.EncryptionKey != nil {
		cipher, err := newRowCipher(opt.EncryptionKey)
		if err != nil {
			return configErrf(c.path, err, "cannot use encryption key")
		}
		c.cipher = cipher
	}

	if opt.InMemory {
		c.store = newMemStorage()
	} else {
		bdb, err := openBolt(c.path, opt)
		if err != nil {
			return err
		}
		c.store = newBoltStorage(bdb)
	}

	if err := c.prepare(db, declared, opt); err != nil {
		c.store.Close()
		var ce *ConfigError
		var se *SchemaError
		var me *ModelError
		if errors.As(err, &ce) || errors.As(err, &se) || errors.As(err, &me) {
			return err
		}
		if Category(err) != CategoryNone {
			return err
		}
		return &EngineError{Op: "open", Err: err}
	}
	c.notifier = newNotifier(c, opt.NotifierWorkers)
	return nil
}

func openBolt(path string, opt *Options) (*bbolt.DB, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.LockTimeout
	bopt.ReadOnly = opt.ReadOnly
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, configErrf(path, ErrFileInUse, "file is locked by another process")
	} else if err != nil {
		return nil, configErrf(path, err, "cannot open")
	}
	return bdb, nil
}

func (c *coordinator) checkCompatible(declared *Schema, opt *Options) error {
	if declared != nil {
		if c.dynamic || declared != c.schema {
			return configErrf(c.path, ErrSchemaMismatch, "file is already open with a different schema")
		}
		if opt.SchemaVersion != c.schemaVersion {
			return configErrf(c.path, ErrSchemaMismatch, "file is already open with schema version %d, requested %d", c.schemaVersion, opt.SchemaVersion)
		}
	}
	if !bytes.Equal(opt.EncryptionKey, c.encKey) {
		return configErrf(c.path, ErrInvalidEncryptionKey, "file is already open with a different encryption key")
	}
	if opt.ReadOnly != c.readOnly {
		return configErrf(c.path, nil, "file is already open with a different read-only setting")
	}
	return nil
}

func (c *coordinator) release() {
	coordinators.Lock()
	c.refs--
	last := c.refs == 0
	if last {
		delete(coordinators.m, c.key)
	}
	coordinators.Unlock()

	if last {
		if c.notifier != nil {
			c.notifier.close()
		}
		if err := c.store.Close(); err != nil {
			c.logger.Error("objdb: closing storage", "path", c.path, "err", err)
		}
	}
}

func (c *coordinator) beginRead() (storageTx, error) {
	return c.store.BeginTx(false)
}

func (c *coordinator) beginWrite() (storageTx, error) {
	if c.readOnly {
		return nil, ErrReadOnly
	}
	return c.store.BeginTx(true)
}
