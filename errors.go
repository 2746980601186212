package objdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/objdb/cell"
)

var (
	// configuration
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
	ErrFileInUse            = errors.New("file is open elsewhere")
	ErrReadOnly             = errors.New("instance is read-only")
	ErrUnknownType          = errors.New("type is not part of the schema")
	ErrUnknownProperty      = errors.New("no such property")

	// transaction discipline
	ErrNotInWriteTransaction        = errors.New("cannot modify managed objects outside of a write transaction")
	ErrNestedWriteTransaction       = errors.New("a write transaction is already in progress")
	ErrTransactionDone              = errors.New("transaction already committed or rolled back")
	ErrWrongThread                  = errors.New("instance accessed from the wrong goroutine")
	ErrSubscribeInWriteTransaction  = errors.New("cannot subscribe to notifications inside a write transaction")
	ErrPrimaryKeyAlreadySet         = errors.New("primary key cannot be changed after the object is created")
	ErrPrimaryKeyOrder              = errors.New("primary key must be set as the first mutation of a new object")
	ErrDuplicatePrimaryKey          = errors.New("an object with this primary key already exists")
	ErrObjectManagedByOtherInstance = errors.New("object is managed by another instance")
	ErrUnmanagedLink                = errors.New("cannot link to an unmanaged object; add it first")

	// invalidated objects and instances
	ErrInvalidatedObject = errors.New("object has been deleted or its instance closed")
	ErrInstanceClosed    = errors.New("instance is closed")
	ErrInstanceInvalid   = errors.New("instance is invalid after an engine failure")
	ErrIndexOutOfRange   = errors.New("index out of range")

	// type mismatch
	ErrTypeMismatch = cell.ErrTypeMismatch
	ErrRequired     = errors.New("required property cannot be null")
)

// ErrorCategory groups errors by how callers are expected to react.
type ErrorCategory int

const (
	CategoryNone ErrorCategory = iota
	CategoryConfiguration
	CategoryTransaction
	CategoryInvalidated
	CategoryTypeMismatch
	CategoryEngine
	CategoryNotification
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryConfiguration:
		return "configuration"
	case CategoryTransaction:
		return "transaction"
	case CategoryInvalidated:
		return "invalidated"
	case CategoryTypeMismatch:
		return "type-mismatch"
	case CategoryEngine:
		return "engine"
	case CategoryNotification:
		return "notification"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Category classifies err. Unknown errors are reported as CategoryNone.
func Category(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	var ee *EngineError
	var ne *NotificationError
	var ce *ConfigError
	var me *ModelError
	switch {
	case errors.As(err, &ne):
		return CategoryNotification
	case errors.As(err, &ee):
		return CategoryEngine
	case errors.As(err, &ce),
		errors.As(err, &me),
		errors.Is(err, ErrSchemaMismatch),
		errors.Is(err, ErrInvalidEncryptionKey),
		errors.Is(err, ErrFileInUse),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrUnknownType),
		errors.Is(err, ErrUnknownProperty):
		return CategoryConfiguration
	case errors.Is(err, ErrNotInWriteTransaction),
		errors.Is(err, ErrNestedWriteTransaction),
		errors.Is(err, ErrTransactionDone),
		errors.Is(err, ErrWrongThread),
		errors.Is(err, ErrSubscribeInWriteTransaction),
		errors.Is(err, ErrPrimaryKeyAlreadySet),
		errors.Is(err, ErrPrimaryKeyOrder),
		errors.Is(err, ErrDuplicatePrimaryKey),
		errors.Is(err, ErrObjectManagedByOtherInstance),
		errors.Is(err, ErrUnmanagedLink):
		return CategoryTransaction
	case errors.Is(err, ErrInvalidatedObject),
		errors.Is(err, ErrInstanceClosed),
		errors.Is(err, ErrInstanceInvalid),
		errors.Is(err, ErrIndexOutOfRange):
		return CategoryInvalidated
	case errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrRequired):
		return CategoryTypeMismatch
	}
	var de *DataError
	if errors.As(err, &de) {
		return CategoryEngine
	}
	return CategoryNone
}

// ConfigError reports a problem opening a file: bad path, bad options.
type ConfigError struct {
	Path string
	Msg  string
	Err  error
}

func configErrf(path string, err error, format string, args ...any) error {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Error() string {
	var buf strings.Builder
	buf.WriteString("objdb: ")
	if e.Path != "" {
		buf.WriteString(e.Path)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// SchemaError lists every incompatibility found while resolving a schema
// against a file. It matches ErrSchemaMismatch.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "schema mismatch: " + strings.Join(e.Problems, "; ")
}

func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// ModelError is raised by DefineModel and by the accessor generator when a
// model type cannot be mapped to storage.
type ModelError struct {
	Type     string
	Problems []string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %s", e.Type, strings.Join(e.Problems, "; "))
}

// PropertyError attaches table and property names to an error.
type PropertyError struct {
	Table    string
	Property string
	Err      error
}

func propErr(tbl *Table, prop string, err error) error {
	return &PropertyError{Table: tbl.Name(), Property: prop, Err: err}
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Table, e.Property, e.Err)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// EngineError wraps an unexpected failure of the storage engine. The
// instance that observed it becomes invalid.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("objdb: storage failure during %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NotificationError is delivered to a subscription callback when its
// change set could not be computed. The subscription stops afterwards.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return "objdb: computing change notification: " + e.Err.Error()
}

func (e *NotificationError) Unwrap() error { return e.Err }

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var body string
	if n <= prefixLen+suffixLen {
		body = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		body = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at %d: %v: %s", e.Msg, e.Off, e.Err, body)
	}
	return fmt.Sprintf("%s at %d: %s", e.Msg, e.Off, body)
}
