package objdb

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/andreyvit/objdb/sched"
	"github.com/tailscale/hujson"
)

type Options struct {
	// Logger receives engine events: schema changes, reindexing, notifier
	// failures. Defaults to slog.Default().
	Logger  *slog.Logger
	Verbose bool

	// IsTesting trades durability for speed.
	IsTesting bool
	MmapSize  int

	ReadOnly bool

	// InMemory makes the path an identifier of a transient store shared by
	// all instances opened with the same identifier in this process. The
	// data disappears when the last instance closes.
	InMemory bool

	// EncryptionKey enables encryption of row data. It must be exactly
	// EncryptionKeySize bytes.
	EncryptionKey []byte

	// SchemaVersion is compared with the version stored in the file.
	SchemaVersion uint64

	// DeleteIfMigrationNeeded wipes the file instead of failing or
	// migrating when the schema changed.
	DeleteIfMigrationNeeded bool

	// Migration runs when SchemaVersion is higher than the stored one, inside
	// the write transaction that upgrades the file.
	Migration func(m *Migration) error

	// Scheduler owns the instance: every call must come from its goroutine,
	// and notifications are posted to it. Defaults to a sched.Queue bound to
	// the goroutine calling Open; its callbacks run from DB.Refresh.
	Scheduler sched.Scheduler

	// NotifierWorkers bounds concurrent change set computations.
	NotifierWorkers int

	// LockTimeout bounds waiting for a file lock held by another process.
	LockTimeout time.Duration
}

const (
	defaultNotifierWorkers = 4
	defaultLockTimeout     = 10 * time.Second
)

func (opt *Options) setDefaults() {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.NotifierWorkers <= 0 {
		opt.NotifierWorkers = defaultNotifierWorkers
	}
	if opt.LockTimeout <= 0 {
		opt.LockTimeout = defaultLockTimeout
	}
}

// Config is the file form of Options, read by LoadConfig. Comments and
// trailing commas are allowed.
type Config struct {
	Path                    string `json:"path"`
	InMemory                bool   `json:"in_memory,omitempty"`
	ReadOnly                bool   `json:"read_only,omitempty"`
	EncryptionKey           string `json:"encryption_key,omitempty"`
	SchemaVersion           uint64 `json:"schema_version,omitempty"`
	DeleteIfMigrationNeeded bool   `json:"delete_if_migration_needed,omitempty"`
	NotifierWorkers         int    `json:"notifier_workers,omitempty"`
	LockTimeout             string `json:"lock_timeout,omitempty"`
	MmapSize                int    `json:"mmap_size,omitempty"`
	Verbose                 bool   `json:"verbose,omitempty"`
}

func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrf(path, err, "cannot read config")
	}
	return ParseConfig(path, raw)
}

func ParseConfig(path string, raw []byte) (*Config, error) {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, configErrf(path, err, "invalid config syntax")
	}
	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, configErrf(path, err, "invalid config")
	}
	if _, err := cfg.Options(); err != nil {
		return nil, configErrf(path, err, "invalid config")
	}
	return &cfg, nil
}

// Options converts the config. Migration, Logger and Scheduler are left
// for the caller.
func (cfg *Config) Options() (Options, error) {
	opt := Options{
		InMemory:                cfg.InMemory,
		ReadOnly:                cfg.ReadOnly,
		SchemaVersion:           cfg.SchemaVersion,
		DeleteIfMigrationNeeded: cfg.DeleteIfMigrationNeeded,
		NotifierWorkers:         cfg.NotifierWorkers,
		MmapSize:                cfg.MmapSize,
		Verbose:                 cfg.Verbose,
	}
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return opt, fmt.Errorf("%w: encryption_key must be hex: %v", ErrInvalidEncryptionKey, err)
		}
		if len(key) != EncryptionKeySize {
			return opt, fmt.Errorf("%w: encryption_key must be %d bytes, got %d", ErrInvalidEncryptionKey, EncryptionKeySize, len(key))
		}
		opt.EncryptionKey = key
	}
	if cfg.LockTimeout != "" {
		d, err := time.ParseDuration(cfg.LockTimeout)
		if err != nil {
			return opt, fmt.Errorf("lock_timeout: %w", err)
		}
		opt.LockTimeout = d
	}
	return opt, nil
}
