package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// Extension is the container directory suffix.
const Extension = ".rwf"

// Key/value metadata stored in every data file footer.
const (
	metaGeneration = "digirec.generation"
	metaLength     = "digirec.length"
)

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// PageSize is the target page size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		PageSize:    1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ConfigRow is one entry of a configuration table.
type ConfigRow struct {
	Key   string `parquet:"key"`
	Value string `parquet:"value"`
}

// Gen1Row is a raw-count waveform row.
type Gen1Row struct {
	EvtNo     uint32   `parquet:"evt_no"`
	Channel   uint32   `parquet:"channel"`
	Timestamp uint64   `parquet:"timestamp"`
	Rwf       []uint16 `parquet:"rwf"`
}

// Gen2Row is a calibrated waveform row.
type Gen2Row struct {
	EvtNo     uint32    `parquet:"evt_no"`
	Channel   uint32    `parquet:"channel"`
	Timestamp uint64    `parquet:"timestamp"`
	Rwf       []float32 `parquet:"rwf"`
}

func gen1Row(r *event.Record) Gen1Row {
	return Gen1Row{
		EvtNo:     uint32(r.EventNumber),
		Channel:   r.Channel,
		Timestamp: r.Timestamp,
		Rwf:       r.Samples.U16,
	}
}

func gen2Row(r *event.Record) Gen2Row {
	return Gen2Row{
		EvtNo:     uint32(r.EventNumber),
		Channel:   r.Channel,
		Timestamp: r.Timestamp,
		Rwf:       r.Samples.F32,
	}
}

// =============================================================================
// Data tables
// =============================================================================

type dataTable interface {
	append(recs []event.Record) error
	flush() error
	close() error
	layout() schema.Layout
	rowCount() int64
}

type table[R any] struct {
	file   *os.File
	writer *parquet.GenericWriter[R]
	lay    schema.Layout
	toRow  func(*event.Record) R
	buf    []R
	rows   int64
}

func newTable[R any](path string, lay schema.Layout, toRow func(*event.Record) R, opts Options) (*table[R], error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
		parquet.KeyValueMetadata(metaGeneration, strconv.Itoa(int(lay.Generation))),
		parquet.KeyValueMetadata(metaLength, strconv.Itoa(lay.Length)),
	}
	if opts.PageSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageSize))
	}

	return &table[R]{
		file:   f,
		writer: parquet.NewGenericWriter[R](f, writerOpts...),
		lay:    lay,
		toRow:  toRow,
	}, nil
}

func (t *table[R]) append(recs []event.Record) error {
	// Validate the whole batch first so a mismatch writes nothing
	for i := range recs {
		if err := t.lay.Check(&recs[i]); err != nil {
			return err
		}
	}

	t.buf = t.buf[:0]
	for i := range recs {
		t.buf = append(t.buf, t.toRow(&recs[i]))
	}

	n, err := t.writer.Write(t.buf)
	t.rows += int64(n)
	switch {
	case err == nil:
		return nil
	case n > 0:
		// Buffered rows cannot be taken back
		return errors.NewPartialWrite(n, fmt.Errorf("write rows: %w", err))
	default:
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("write rows: %w", err))
	}
}

func (t *table[R]) flush() error {
	if err := t.writer.Flush(); err != nil {
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("flush row group: %w", err))
	}
	if err := t.file.Sync(); err != nil {
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("sync: %w", err))
	}
	return nil
}

func (t *table[R]) close() error {
	if err := t.writer.Close(); err != nil {
		t.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		t.file.Close()
		return fmt.Errorf("sync: %w", err)
	}
	return t.file.Close()
}

func (t *table[R]) layout() schema.Layout { return t.lay }
func (t *table[R]) rowCount() int64       { return t.rows }

// =============================================================================
// Store
// =============================================================================

// Store is an open container directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	opts   Options
	tables map[string]dataTable
	order  []string
	closed bool
}

// Open creates the container directory. An existing data table is never
// overwritten.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &Store{
		dir:    dir,
		opts:   opts,
		tables: make(map[string]dataTable),
	}, nil
}

// Path returns the container directory.
func (s *Store) Path() string {
	return s.dir
}

// WriteConfigTable writes name.parquet with one row per entry.
func (s *Store) WriteConfigTable(name string, rows []loader.KV) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}

	f, err := os.Create(filepath.Join(s.dir, name+".parquet"))
	if err != nil {
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("create file: %w", err))
	}

	out := make([]ConfigRow, len(rows))
	for i, kv := range rows {
		out[i] = ConfigRow{Key: kv.Key, Value: kv.Value}
	}

	w := parquet.NewGenericWriter[ConfigRow](f, parquet.Compression(getCompression(s.opts.Compression)))
	if _, err := w.Write(out); err != nil {
		f.Close()
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("write rows: %w", err))
	}
	if err := w.Close(); err != nil {
		f.Close()
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("close writer: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("sync: %w", err))
	}
	return f.Close()
}

// AppendRecords appends recs to table, creating it with layout on first use.
// A later call with a different layout fails with ErrSchemaMismatch.
func (s *Store) AppendRecords(name string, layout schema.Layout, recs []event.Record) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}

	t, ok := s.tables[name]
	if !ok {
		var err error
		if t, err = s.createTable(name, layout); err != nil {
			return err
		}
	} else if t.layout() != layout {
		return errors.NewSchemaMismatch(t.layout().String(), layout.String())
	}

	return t.append(recs)
}

func (s *Store) createTable(name string, layout schema.Layout) (dataTable, error) {
	if !tableName.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	if layout.IsZero() {
		return nil, errors.NewSchemaMismatch("fixed layout", "zero layout")
	}

	path := filepath.Join(s.dir, name+".parquet")

	var (
		t   dataTable
		err error
	)
	switch layout.Generation {
	case schema.Generation1:
		t, err = newTable(path, layout, gen1Row, s.opts)
	case schema.Generation2:
		t, err = newTable(path, layout, gen2Row, s.opts)
	default:
		return nil, errors.NewSchemaMismatch("gen1 or gen2", layout.Generation.String())
	}
	if err != nil {
		return nil, errors.Classify(errors.ErrStorageOpen, err)
	}

	s.tables[name] = t
	s.order = append(s.order, name)
	return t, nil
}

// Flush closes the current row group of every data table and fsyncs it.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}

	for _, name := range s.order {
		if err := s.tables[name].flush(); err != nil {
			return errors.Wrapf(err, "table %s", name)
		}
	}
	return nil
}

// RowCount returns the number of rows appended to a data table.
func (s *Store) RowCount(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t.rowCount()
	}
	return 0
}

// Close writes every file footer. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, name := range s.order {
		if err := s.tables[name].close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "table %s", name)
		}
	}
	return firstErr
}
