package objdb

import "errors"

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage is the engine boundary: a transactional store of sorted buckets.
// Implementations: bbolt files and a transient in-memory store.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns a bucket, or nil if it doesn't exist. Use sub="" for a
	// root bucket, non-empty for a nested one.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates a bucket (and its root) if it doesn't exist.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket, or a root bucket with everything
	// under it when sub is empty.
	DeleteBucket(name, sub string) error

	// RootBuckets lists root bucket names in order.
	RootBuckets() []string

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown).
	Size() int64
}

type storageBucket interface {
	// Get returns nil if the key is not found. The slice is only valid
	// until the transaction ends.
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor

	// NextSequence returns a new, never reused, positive integer for this bucket.
	NextSequence() (uint64, error)

	// Stats returns bucket statistics. Backends that don't track
	// allocation sizes may return zero values except KeyN.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

type storageCursor interface {
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	Next() (key, value []byte)
	Delete() error
}
