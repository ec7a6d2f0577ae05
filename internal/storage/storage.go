package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/duckdb"
	"github.com/xtxerr/digirec/internal/storage/parquet"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// Table names inside a container.
const (
	RecConfigTable = "config_rec"
	DigConfigTable = "config_dig"
	DataTable      = "rwf"
)

// Store is one open per-channel container.
//
// A Store is owned by a single writer goroutine; implementations need not be
// safe for concurrent use, but Close must be idempotent.
type Store interface {
	// Path returns the container location.
	Path() string

	// WriteConfigTable writes a static key/value table.
	WriteConfigTable(name string, rows []loader.KV) error

	// AppendRecords appends records to a data table with the given layout.
	// The first append creates the table.
	AppendRecords(table string, layout schema.Layout, recs []event.Record) error

	// Flush makes every appended record durable.
	Flush() error

	// Close flushes and releases the container.
	Close() error
}

// Opener opens (creating if needed) a container at path.
type Opener func(path string) (Store, error)

// Backend names.
const (
	BackendParquet = "parquet"
	BackendDuckDB  = "duckdb"
)

// Options selects and tunes a backend.
type Options struct {
	// Backend is parquet or duckdb.
	Backend string

	// Compression is the parquet codec: snappy, zstd, lz4, gzip, none.
	Compression string
}

// NewOpener returns the opener for the configured backend.
// Open failures are reported as ErrStorageOpen.
func NewOpener(opts Options) (Opener, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendParquet, "":
		popts := parquet.DefaultOptions()
		if opts.Compression != "" {
			popts.Compression = parquet.ParseCompressionType(opts.Compression)
		}
		return func(path string) (Store, error) {
			s, err := parquet.Open(path, popts)
			if err != nil {
				return nil, errors.Classify(errors.ErrStorageOpen, err)
			}
			return s, nil
		}, nil

	case BackendDuckDB:
		return func(path string) (Store, error) {
			s, err := duckdb.Open(path)
			if err != nil {
				return nil, errors.Classify(errors.ErrStorageOpen, err)
			}
			return s, nil
		}, nil

	default:
		return nil, errors.NewInvalidValue("storage.backend", opts.Backend, "expected parquet or duckdb")
	}
}

// Extension returns the container suffix of a backend.
func Extension(backend string) string {
	if strings.ToLower(backend) == BackendDuckDB {
		return duckdb.Extension
	}
	return parquet.Extension
}

// FileName builds the container path for one channel:
//
//	{dir}/{file_name|channel}_{channel}_{session}{ext}
func FileName(dir, fileName string, ch uint32, session, backend string) string {
	prefix := fileName
	if prefix == "" {
		prefix = fmt.Sprint(ch)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d_%s%s", prefix, ch, session, Extension(backend)))
}
